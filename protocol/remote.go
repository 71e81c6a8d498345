package protocol

import (
	"maps"
	"math"
	"math/rand"

	"github.com/MRN-Code/multishot/numeric"
)

// Status tags a RemoteStep outcome so callers cannot mistake a terminal
// state, or a round that is still collecting results, for ordinary data.
type Status int

const (
	// StatusWaiting means the round's result set is incomplete or
	// desynchronized; no state change occurred and the caller retries.
	StatusWaiting Status = iota

	// StatusSeeded means an initial model state was emitted.
	StatusSeeded

	// StatusContinue means a round was accepted and the model advanced.
	StatusContinue

	// StatusConverged means the aggregated gradient dropped below the
	// tolerance; the state is terminal.
	StatusConverged

	// StatusExhausted means the iteration cap was reached; the state is
	// terminal.
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusSeeded:
		return "seeded"
	case StatusContinue:
		return "continue"
	case StatusConverged:
		return "converged"
	case StatusExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Terminal reports whether the status ends the run.
func (s Status) Terminal() bool {
	return s == StatusConverged || s == StatusExhausted
}

// Outcome is the tagged result of one RemoteStep invocation.
type Outcome struct {
	Status Status
	State  *ModelState
}

// Seeder produces initial coefficient values. The default draws uniformly
// from [0, 1); tests may install a deterministic source.
type Seeder func() float64

// RemoteStep advances the aggregator by one round. It is a pure function of
// (previous state, result set): the previous state is never mutated, and
// every accepted round constructs a new ModelState.
//
// A nil prev seeds the run. Terminal states are returned unchanged. A
// partial or desynchronized result set yields StatusWaiting with no state
// change. Results that fail validation are dropped (leaving the round
// pending) rather than failing the run.
func RemoteStep(cfg *RunConfig, prev *ModelState, results []*LocalResult, seed Seeder) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return Outcome{}, err
	}
	keys := cfg.Keys()

	// Seed round: an emission, not an aggregation.
	if prev == nil {
		return Outcome{Status: StatusSeeded, State: seedState(cfg, keys, seed)}, nil
	}

	// Terminal states accept no further transitions.
	if prev.Complete {
		return Outcome{Status: terminalStatus(cfg, prev, keys), State: prev}, nil
	}

	// Iteration cap gate runs before synchronization and aggregation.
	if prev.IterationCount >= cfg.MaxIterations {
		exhausted := cloneState(prev)
		exhausted.Complete = true
		return Outcome{Status: StatusExhausted, State: exhausted}, nil
	}

	// Sync gate: aggregate only a full set of results computed against the
	// current coefficients. Malformed contributions are dropped, which
	// leaves the round pending until resubmission.
	valid := results[:0:0]
	for _, r := range results {
		if r.Validate() != nil {
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) < cfg.ExpectedSites {
		return Outcome{Status: StatusWaiting, State: prev}, nil
	}
	for _, r := range valid {
		if !mapsEqual(r.PreviousAggregateMVals, prev.MVals, keys) {
			return Outcome{Status: StatusWaiting, State: prev}, nil
		}
	}

	// Aggregate: additive global objective, column-wise gradient sum, mean
	// r2 (diagnostic only).
	var objective float64
	r2s := make([]float64, 0, len(valid))
	gradientSum := make(map[string]float64, len(keys))
	for _, r := range valid {
		objective += r.Objective
		r2s = append(r2s, r.R2)
		for _, k := range keys {
			gradientSum[k] += r.Gradient[k]
		}
	}
	r2 := numeric.Mean(r2s)

	gradientVec, err := numeric.Unzip(gradientSum, keys)
	if err != nil {
		return Outcome{}, err
	}

	// Convergence: freeze coefficients and learning rate, record the final
	// aggregate, and terminate.
	if numeric.Norm(gradientVec) < cfg.Tolerance {
		next := &ModelState{
			Gradient:        gradientSum,
			MVals:           maps.Clone(prev.MVals),
			LearningRate:    prev.LearningRate,
			Objective:       objective,
			R2:              r2,
			PreviousBestFit: prev.PreviousBestFit.Clone(),
			IterationCount:  prev.IterationCount + 1,
			History:         appendHistory(prev, gradientSum, prev.MVals, objective, r2, prev.LearningRate),
			Complete:        true,
		}
		return Outcome{Status: StatusConverged, State: next}, nil
	}

	// Learning-rate and anchor selection. A regressed round halves the rate
	// and keeps the old anchor; an improved round keeps the rate and
	// promotes the pre-round fit.
	learningRate := prev.LearningRate
	anchor := prev.PreviousBestFit
	if objective > prev.PreviousBestFit.Objective {
		learningRate = prev.LearningRate / 2
	} else {
		anchor = FitSnapshot{
			Gradient:  prev.Gradient,
			MVals:     prev.MVals,
			Objective: prev.Objective,
		}
	}

	// One descent step from the selected anchor.
	mVals := descend(anchor, learningRate, keys)

	next := &ModelState{
		Gradient:        gradientSum,
		MVals:           mVals,
		LearningRate:    learningRate,
		Objective:       objective,
		R2:              r2,
		PreviousBestFit: anchor.Clone(),
		IterationCount:  prev.IterationCount + 1,
		History:         appendHistory(prev, gradientSum, mVals, objective, r2, learningRate),
		Complete:        false,
	}

	return Outcome{Status: StatusContinue, State: next}, nil
}

// terminalStatus labels an already-complete state by what ended it.
func terminalStatus(cfg *RunConfig, s *ModelState, keys []string) Status {
	if gradientVec, err := numeric.Unzip(s.Gradient, keys); err == nil &&
		numeric.Norm(gradientVec) < cfg.Tolerance {
		return StatusConverged
	}
	return StatusExhausted
}

// seedState emits the initial model: random coefficients, zero gradient,
// infinite objective, and a best-fit anchor mirroring the same.
func seedState(cfg *RunConfig, keys []string, seed Seeder) *ModelState {
	if seed == nil {
		seed = rand.Float64
	}

	mVals := make(map[string]float64, len(keys))
	gradient := make(map[string]float64, len(keys))
	for _, k := range keys {
		mVals[k] = seed()
		gradient[k] = 0
	}

	return &ModelState{
		Gradient:     gradient,
		MVals:        mVals,
		LearningRate: cfg.InitialLearningRate,
		Objective:    math.Inf(1),
		R2:           0,
		PreviousBestFit: FitSnapshot{
			Gradient:  maps.Clone(gradient),
			MVals:     maps.Clone(mVals),
			Objective: math.Inf(1),
		},
		IterationCount: 0,
		History:        nil,
	}
}

// descend takes one gradient-descent step from the anchor.
func descend(anchor FitSnapshot, learningRate float64, keys []string) map[string]float64 {
	mVals := make(map[string]float64, len(keys))
	for _, k := range keys {
		mVals[k] = anchor.MVals[k] - learningRate*anchor.Gradient[k]
	}
	return mVals
}

// appendHistory copies prev's history and appends this round's snapshot.
// Snapshots never nest a history of their own.
func appendHistory(prev *ModelState, gradient, mVals map[string]float64, objective, r2, learningRate float64) []HistoryEntry {
	history := make([]HistoryEntry, len(prev.History), len(prev.History)+1)
	copy(history, prev.History)
	return append(history, HistoryEntry{
		Gradient:     maps.Clone(gradient),
		MVals:        maps.Clone(mVals),
		Objective:    objective,
		R2:           r2,
		LearningRate: learningRate,
	})
}

// cloneState deep-copies a model state.
func cloneState(s *ModelState) *ModelState {
	history := make([]HistoryEntry, len(s.History))
	copy(history, s.History)
	return &ModelState{
		Gradient:        maps.Clone(s.Gradient),
		MVals:           maps.Clone(s.MVals),
		LearningRate:    s.LearningRate,
		Objective:       s.Objective,
		R2:              s.R2,
		PreviousBestFit: s.PreviousBestFit.Clone(),
		IterationCount:  s.IterationCount,
		History:         history,
		Complete:        s.Complete,
	}
}
