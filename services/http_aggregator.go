package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MRN-Code/multishot/protocol"
)

// HTTPAggregator exposes an Aggregator over HTTP.
type HTTPAggregator struct {
	agg *Aggregator
}

// NewHTTPAggregator wraps an aggregator with HTTP endpoints.
func NewHTTPAggregator(agg *Aggregator) *HTTPAggregator {
	return &HTTPAggregator{agg: agg}
}

// RegisterRoutes registers HTTP routes for the aggregator.
func (h *HTTPAggregator) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Post("/results", h.handleSubmitResult)
	r.Get("/model", h.handleModel)
	r.Get("/status", h.handleStatus)
	r.Get("/history", h.handleHistory)
}

func (h *HTTPAggregator) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req SubmitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := h.agg.SubmitResult(r.Context(), req.SiteID, req.Result)
	if err != nil {
		var malformed *protocol.MalformedInputError
		if errors.As(err, &malformed) {
			// The contribution is dropped; the site must resubmit.
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		var confErr *protocol.ConfigurationError
		if errors.As(err, &confErr) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state := h.agg.State()
	json.NewEncoder(w).Encode(&SubmitResultResponse{
		Status:    status.String(),
		Iteration: state.IterationCount,
		Complete:  state.Complete,
	})
}

func (h *HTTPAggregator) handleModel(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.agg.Model())
}

func (h *HTTPAggregator) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.agg.Status())
}

func (h *HTTPAggregator) handleHistory(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(&HistoryResponse{
		RunID:   h.agg.RunID(),
		History: h.agg.History(),
	})
}
