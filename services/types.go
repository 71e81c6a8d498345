package services

import "github.com/MRN-Code/multishot/protocol"

// ServiceType identifies the type of service.
type ServiceType string

const (
	SiteService       ServiceType = "site"
	AggregatorService ServiceType = "aggregator"
)

// SubmitResultRequest carries one site's round contribution to the
// aggregator.
type SubmitResultRequest struct {
	SiteID string                `json:"site_id"`
	Result *protocol.LocalResult `json:"result"`
}

// SubmitResultResponse reports the aggregator's state after a submission.
type SubmitResultResponse struct {
	Status    string `json:"status"`
	Iteration int    `json:"iteration"`
	Complete  bool   `json:"complete"`
}

// ModelResponse is the aggregator's current shared model.
type ModelResponse struct {
	MVals     map[string]float64 `json:"m_vals"`
	Iteration int                `json:"iteration"`
	Complete  bool               `json:"complete"`
}

// StatusResponse summarizes a run.
type StatusResponse struct {
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"`
	Iteration int     `json:"iteration"`
	Objective float64 `json:"objective"`
	R2        float64 `json:"r2"`
	Complete  bool    `json:"complete"`
}

// ComputeRequest broadcasts the current model to a site.
type ComputeRequest struct {
	MVals     map[string]float64 `json:"m_vals"`
	Iteration int                `json:"iteration"`
}

// ComputeResponse returns a site's round result. Computed is false only
// when the site has never seen a model to fit against.
type ComputeResponse struct {
	Computed bool                  `json:"computed"`
	Result   *protocol.LocalResult `json:"result,omitempty"`
}

// HistoryResponse lists the accepted-round snapshots of a run.
type HistoryResponse struct {
	RunID   string                  `json:"run_id"`
	History []protocol.HistoryEntry `json:"history"`
}
