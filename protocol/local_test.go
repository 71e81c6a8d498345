package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MRN-Code/multishot/privacy"
)

func singleROIConfig() *RunConfig {
	return &RunConfig{
		ROIs:                []privacy.ROI{{Key: "roi-a", Min: 0, Max: 1}},
		ExpectedSites:       1,
		InitialLearningRate: 1e-3,
		Tolerance:           1e-5,
		MaxIterations:       100,
	}
}

// Four subjects whose predictor and response are perfectly correlated, so
// both z-score to identical columns.
func correlatedRequest(model map[string]float64) *LocalRequest {
	return &LocalRequest{
		Model:      model,
		Predictors: [][]float64{{1}, {2}, {3}, {4}},
		Responses:  [][]float64{{10}, {20}, {30}, {40}},
	}
}

func TestLocalStepNoModelIsNoop(t *testing.T) {
	result, err := LocalStep(singleROIConfig(), correlatedRequest(nil))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestLocalStepUnchangedModelIsNoop(t *testing.T) {
	req := correlatedRequest(map[string]float64{"roi-a": 0.5})
	req.PriorEcho = map[string]float64{"roi-a": 0.5}

	result, err := LocalStep(singleROIConfig(), req)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestLocalStepChangedModelRecomputes(t *testing.T) {
	req := correlatedRequest(map[string]float64{"roi-a": 0.5})
	req.PriorEcho = map[string]float64{"roi-a": 0.25}

	result, err := LocalStep(singleROIConfig(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestLocalStepPerfectFit(t *testing.T) {
	// With x and y z-scoring to the same column, w=1 is an exact fit.
	result, err := LocalStep(singleROIConfig(), correlatedRequest(map[string]float64{"roi-a": 1}))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.InDelta(t, 0, result.Objective, 1e-12)
	require.InDelta(t, 0, result.Gradient["roi-a"], 1e-12)
	require.InDelta(t, 1, result.R2, 1e-12)
	require.Equal(t, map[string]float64{"roi-a": 1}, result.PreviousAggregateMVals)
}

func TestLocalStepZeroModel(t *testing.T) {
	// At w=0 the residual is y itself: objective = sum(y_n^2) = n-1 under
	// sample-deviation z-scoring, gradient = -2*sum(x_n*y_n) = -2*(n-1),
	// and r2 = 0.
	result, err := LocalStep(singleROIConfig(), correlatedRequest(map[string]float64{"roi-a": 0}))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.InDelta(t, 3, result.Objective, 1e-12)
	require.InDelta(t, -6, result.Gradient["roi-a"], 1e-12)
	require.InDelta(t, 0, result.R2, 1e-12)
}

func TestLocalStepRidgePenalty(t *testing.T) {
	cfg := singleROIConfig()
	cfg.Lambda = 0.5

	result, err := LocalStep(cfg, correlatedRequest(map[string]float64{"roi-a": 1}))
	require.NoError(t, err)

	// Perfect fit plus the penalty: objective = lambda*w^2, gradient =
	// 2*lambda*w.
	require.InDelta(t, 0.5, result.Objective, 1e-12)
	require.InDelta(t, 1, result.Gradient["roi-a"], 1e-12)
}

func TestLocalStepDeterministic(t *testing.T) {
	cfg := singleROIConfig()
	model := map[string]float64{"roi-a": 0.3}

	a, err := LocalStep(cfg, correlatedRequest(model))
	require.NoError(t, err)
	b, err := LocalStep(cfg, correlatedRequest(model))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestLocalStepShapeErrors(t *testing.T) {
	cfg := singleROIConfig()
	model := map[string]float64{"roi-a": 0.5}

	cases := map[string]*LocalRequest{
		"empty": {
			Model: model,
		},
		"row mismatch": {
			Model:      model,
			Predictors: [][]float64{{1}, {2}},
			Responses:  [][]float64{{1}},
		},
		"wide predictor row": {
			Model:      model,
			Predictors: [][]float64{{1, 2}},
			Responses:  [][]float64{{1}},
		},
		"empty response row": {
			Model:      model,
			Predictors: [][]float64{{1}},
			Responses:  [][]float64{{}},
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LocalStep(cfg, req)
			require.Error(t, err)

			var shapeErr *InputShapeError
			require.ErrorAs(t, err, &shapeErr)
		})
	}
}

func TestLocalStepMissingModelKey(t *testing.T) {
	_, err := LocalStep(singleROIConfig(), correlatedRequest(map[string]float64{"other": 1}))
	require.Error(t, err)
}
