package services

import (
	"maps"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/MRN-Code/multishot/protocol"
)

// Site owns the local half of the protocol for one participant: its private
// predictor/response matrices and the echo of the last model it computed
// against. Raw data never leaves the site; only gradients do.
type Site struct {
	id     string
	config *protocol.RunConfig
	log    hclog.Logger

	predictors [][]float64
	responses  [][]float64

	mu         sync.Mutex
	lastEcho   map[string]float64
	lastResult *protocol.LocalResult
}

// NewSite validates the run configuration and wraps one participant's data.
func NewSite(id string, config *protocol.RunConfig, predictors, responses [][]float64, log hclog.Logger) (*Site, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Site{
		id:         id,
		config:     config,
		log:        log.Named("site").With("site", id),
		predictors: predictors,
		responses:  responses,
	}, nil
}

// ID returns the site identifier.
func (s *Site) ID() string {
	return s.id
}

// ComputeRound runs one local regression step against a model broadcast. A
// nil result means no model was supplied yet. When the broadcast has not
// moved since the last computation the regression is not rerun; the cached
// result is resubmitted instead, since the fit against identical
// coefficients and identical data is identical. The aggregator may need
// that resubmission to complete a round the model did not advance through.
func (s *Site) ComputeRound(model map[string]float64) (*protocol.LocalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := protocol.LocalStep(s.config, &protocol.LocalRequest{
		Model:      model,
		Predictors: s.predictors,
		Responses:  s.responses,
		PriorEcho:  s.lastEcho,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		if s.lastResult != nil {
			s.log.Debug("model unchanged, resubmitting cached result")
			return s.lastResult, nil
		}
		return nil, nil
	}

	s.lastEcho = maps.Clone(result.PreviousAggregateMVals)
	s.lastResult = result
	s.log.Debug("round computed", "objective", result.Objective, "r2", result.R2)
	return result, nil
}
