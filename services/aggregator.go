package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/MRN-Code/multishot/protocol"
)

// Aggregator owns the remote half of the protocol for one run. It collects
// site results, advances the model once a full synchronized result set is in
// hand, and persists every accepted round.
//
// All protocol state lives in immutable protocol.ModelState values; the
// aggregator only swaps which value is current.
type Aggregator struct {
	config *protocol.RunConfig
	runID  string
	store  RunStore
	log    hclog.Logger

	mu      sync.Mutex
	state   *protocol.ModelState
	status  protocol.Status
	pending map[string]*protocol.LocalResult
}

// NewAggregator validates the run configuration and seeds the initial model.
// A nil store disables persistence; a nil logger is quieted.
func NewAggregator(config *protocol.RunConfig, store RunStore, log hclog.Logger) (*Aggregator, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	out, err := protocol.RemoteStep(config, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("seeding run: %w", err)
	}

	a := &Aggregator{
		config:  config,
		runID:   uuid.NewString(),
		store:   store,
		log:     log.Named("aggregator"),
		state:   out.State,
		status:  out.Status,
		pending: make(map[string]*protocol.LocalResult),
	}

	a.log.Info("run seeded", "run_id", a.runID, "rois", len(config.ROIs), "expected_sites", config.ExpectedSites)
	return a, nil
}

// RunID returns the run's identifier.
func (a *Aggregator) RunID() string {
	return a.runID
}

// Config returns the run configuration shared with the sites.
func (a *Aggregator) Config() *protocol.RunConfig {
	return a.config
}

// SubmitResult records one site's contribution and advances the round when
// the expected set is complete and synchronized. A malformed result is
// rejected and dropped; the round stays pending until that site resubmits.
func (a *Aggregator) SubmitResult(ctx context.Context, siteID string, result *protocol.LocalResult) (protocol.Status, error) {
	if siteID == "" {
		return 0, errors.New("site ID cannot be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Terminal() {
		return a.status, nil
	}

	// Let the iteration-cap gate fire without waiting for a full set.
	if a.state.IterationCount >= a.config.MaxIterations {
		out, err := protocol.RemoteStep(a.config, a.state, nil, nil)
		if err != nil {
			return 0, err
		}
		a.state = out.State
		a.status = out.Status
		a.log.Info("run exhausted", "iteration", a.state.IterationCount)
		return a.status, nil
	}

	if err := result.Validate(); err != nil {
		a.log.Warn("dropping malformed result", "site", siteID, "err", err)
		return a.status, err
	}

	a.pending[siteID] = result
	a.log.Debug("result received", "site", siteID, "collected", len(a.pending))

	if len(a.pending) < a.config.ExpectedSites {
		return protocol.StatusWaiting, nil
	}

	results := make([]*protocol.LocalResult, 0, len(a.pending))
	contributors := make([]string, 0, len(a.pending))
	for id, r := range a.pending {
		results = append(results, r)
		contributors = append(contributors, id)
	}
	sort.Strings(contributors)

	out, err := protocol.RemoteStep(a.config, a.state, results, nil)
	if err != nil {
		return 0, err
	}

	if out.Status == protocol.StatusWaiting {
		// Stale echoes: the batch was computed against an older model.
		// Discard it and wait for results against the current one.
		a.pending = make(map[string]*protocol.LocalResult)
		a.log.Warn("discarding desynchronized round", "iteration", a.state.IterationCount)
		return protocol.StatusWaiting, nil
	}

	out.State.Contributors = contributors
	a.state = out.State
	a.status = out.Status
	a.pending = make(map[string]*protocol.LocalResult)

	a.log.Info("round accepted",
		"iteration", a.state.IterationCount,
		"status", a.status.String(),
		"objective", a.state.Objective,
		"r2", a.state.R2,
		"learning_rate", a.state.LearningRate)

	if a.store != nil && len(a.state.History) > 0 {
		entry := a.state.History[len(a.state.History)-1]
		if err := a.store.SaveRound(ctx, a.runID, a.state.IterationCount, entry); err != nil {
			a.log.Error("persisting round", "iteration", a.state.IterationCount, "err", err)
		}
	}

	return a.status, nil
}

// Model returns the current shared coefficient vector for broadcast.
func (a *Aggregator) Model() ModelResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	return ModelResponse{
		MVals:     a.state.MVals,
		Iteration: a.state.IterationCount,
		Complete:  a.state.Complete,
	}
}

// Status summarizes the run.
func (a *Aggregator) Status() StatusResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	return StatusResponse{
		RunID:     a.runID,
		Status:    a.status.String(),
		Iteration: a.state.IterationCount,
		Objective: a.state.Objective,
		R2:        a.state.R2,
		Complete:  a.state.Complete,
	}
}

// State returns the current model state.
func (a *Aggregator) State() *protocol.ModelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the accepted-round snapshots.
func (a *Aggregator) History() []protocol.HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := make([]protocol.HistoryEntry, len(a.state.History))
	copy(history, a.state.History)
	return history
}
