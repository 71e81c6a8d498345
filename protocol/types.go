package protocol

import "maps"

// FitSnapshot is the minimal record of one fit: the gradient and
// coefficients it was evaluated at and the objective it achieved. The
// best-fit anchor is a FitSnapshot.
type FitSnapshot struct {
	Gradient  map[string]float64 `json:"gradient"`
	MVals     map[string]float64 `json:"m_vals"`
	Objective float64            `json:"objective"`
}

// Clone returns a deep copy of the snapshot.
func (f FitSnapshot) Clone() FitSnapshot {
	return FitSnapshot{
		Gradient:  maps.Clone(f.Gradient),
		MVals:     maps.Clone(f.MVals),
		Objective: f.Objective,
	}
}

// HistoryEntry records one accepted round. It deliberately carries no
// nested history.
type HistoryEntry struct {
	Gradient     map[string]float64 `json:"gradient"`
	MVals        map[string]float64 `json:"m_vals"`
	Objective    float64            `json:"objective"`
	R2           float64            `json:"r2"`
	LearningRate float64            `json:"learning_rate"`
}

// ModelState is the aggregator's evolving record of the run. States are
// immutable: every accepted round constructs a new ModelState, and a state
// with Complete set is terminal.
type ModelState struct {
	Gradient     map[string]float64 `json:"gradient"`
	MVals        map[string]float64 `json:"m_vals"`
	LearningRate float64            `json:"learning_rate"`
	Objective    float64            `json:"objective"`
	R2           float64            `json:"r2"`

	// PreviousBestFit anchors the next descent step.
	PreviousBestFit FitSnapshot `json:"previous_best_fit"`

	IterationCount int            `json:"iteration_count"`
	History        []HistoryEntry `json:"history"`
	Complete       bool           `json:"complete"`

	// Contributors lists the sites whose results produced this state. The
	// aggregation itself never reads it.
	Contributors []string `json:"contributors,omitempty"`
}

// LocalResult is one site's contribution for one round. It is produced
// fresh each round and consumed by exactly one aggregation.
type LocalResult struct {
	Gradient  map[string]float64 `json:"gradient"`
	Objective float64            `json:"objective"`
	R2        float64            `json:"r2"`

	// PreviousAggregateMVals echoes the model vector this result was
	// computed against. It is the round synchronization token: the
	// aggregator refuses to fold in a result whose echo does not match its
	// current coefficients.
	PreviousAggregateMVals map[string]float64 `json:"previous_aggregate_m_vals"`
}

// Validate reports a *MalformedInputError when a required field is absent.
func (r *LocalResult) Validate() error {
	if r == nil {
		return &MalformedInputError{Field: "result"}
	}
	if r.Gradient == nil {
		return &MalformedInputError{Field: "gradient"}
	}
	if r.PreviousAggregateMVals == nil {
		return &MalformedInputError{Field: "previous_aggregate_m_vals"}
	}
	return nil
}

// mapsEqual compares two keyed vectors by value over the given key order.
func mapsEqual(a, b map[string]float64, keys []string) bool {
	for _, k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if !aok || !bok || av != bv {
			return false
		}
	}
	return true
}
