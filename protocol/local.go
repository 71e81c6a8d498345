package protocol

import (
	"fmt"
	"maps"

	"gonum.org/v1/gonum/mat"

	"github.com/MRN-Code/multishot/numeric"
)

// LocalRequest carries the inputs for one site's round.
type LocalRequest struct {
	// Model is the current shared coefficient vector, keyed by ROI. Nil
	// while the aggregator has not yet seeded a model.
	Model map[string]float64 `json:"model"`

	// Predictors holds one row per subject, one column per ROI key, in the
	// run's key order.
	Predictors [][]float64 `json:"predictors"`

	// Responses holds one row per subject; the first column is the
	// regression target.
	Responses [][]float64 `json:"responses"`

	// PriorEcho is the model vector the site last computed against, if any.
	// When it already equals Model the round is a no-op: the shared model
	// has not moved since the last computation.
	PriorEcho map[string]float64 `json:"prior_echo,omitempty"`

	// Normalize overrides the default z-score strategy. Wire requests leave
	// it nil.
	Normalize numeric.Strategy `json:"-"`
}

// LocalStep computes one site's gradient, objective and r2 against the
// current shared model. It is pure and deterministic.
//
// A nil result with a nil error is a deliberate no-op: either no model is
// available yet, or the echoed prior model equals the current one and
// recomputation would be redundant.
func LocalStep(cfg *RunConfig, req *LocalRequest) (*LocalResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys := cfg.Keys()
	if req.Model == nil {
		return nil, nil
	}
	if req.PriorEcho != nil && mapsEqual(req.PriorEcho, req.Model, keys) {
		return nil, nil
	}

	n := len(req.Predictors)
	if n == 0 || len(req.Responses) == 0 {
		return nil, &InputShapeError{Reason: "empty predictor/response data"}
	}
	if n != len(req.Responses) {
		return nil, &InputShapeError{Reason: fmt.Sprintf(
			"%d predictor rows for %d response rows", n, len(req.Responses))}
	}

	w, err := numeric.Unzip(req.Model, keys)
	if err != nil {
		return nil, err
	}

	x, y, err := buildMatrices(req, len(keys))
	if err != nil {
		return nil, err
	}

	xn := numeric.Normalize(x, req.Normalize)
	yn := numeric.NormalizeVector(y, req.Normalize)

	gradient, objective := ridgeGradient(xn, yn, w, cfg.Lambda)
	r2 := rSquared(xn, yn, w)

	keyedGradient, err := numeric.Zip(gradient, keys)
	if err != nil {
		return nil, err
	}

	return &LocalResult{
		Gradient:               keyedGradient,
		Objective:              objective,
		R2:                     r2,
		PreviousAggregateMVals: maps.Clone(req.Model),
	}, nil
}

// buildMatrices assembles the predictor matrix and response vector,
// checking row widths against the key count.
func buildMatrices(req *LocalRequest, width int) (*mat.Dense, []float64, error) {
	n := len(req.Predictors)
	x := mat.NewDense(n, width, nil)
	y := make([]float64, n)

	for i, row := range req.Predictors {
		if len(row) != width {
			return nil, nil, &InputShapeError{Reason: fmt.Sprintf(
				"predictor row %d has %d columns for %d ROI keys", i, len(row), width)}
		}
		x.SetRow(i, row)
	}
	for i, row := range req.Responses {
		if len(row) == 0 {
			return nil, nil, &InputShapeError{Reason: fmt.Sprintf("response row %d is empty", i)}
		}
		y[i] = row[0]
	}
	return x, y, nil
}

// ridgeGradient evaluates the ridge objective and its gradient at w over
// normalized data: objective = sum((y - Xw)^2) + lambda*||w||^2, gradient_k
// = sum(-2*x_k*(y - Xw)) + 2*lambda*w_k.
func ridgeGradient(x *mat.Dense, y, w []float64, lambda float64) ([]float64, float64) {
	n, p := x.Dims()
	wv := mat.NewVecDense(p, w)

	residual := make([]float64, n)
	var objective float64
	for i := 0; i < n; i++ {
		pred := mat.Dot(x.RowView(i), wv)
		residual[i] = y[i] - pred
		objective += residual[i] * residual[i]
	}

	gradient := make([]float64, p)
	for k := 0; k < p; k++ {
		var g float64
		for i := 0; i < n; i++ {
			g += -2 * x.At(i, k) * residual[i]
		}
		gradient[k] = g + 2*lambda*w[k]
	}

	wNorm := numeric.Norm(w)
	objective += lambda * wNorm * wNorm

	return gradient, objective
}

// rSquared is the coefficient of determination of normalized y against the
// model's predictions on normalized x.
func rSquared(x *mat.Dense, y, w []float64) float64 {
	n, p := x.Dims()
	wv := mat.NewVecDense(p, w)

	mean := numeric.Mean(y)
	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		pred := mat.Dot(x.RowView(i), wv)
		ssRes += (y[i] - pred) * (y[i] - pred)
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
