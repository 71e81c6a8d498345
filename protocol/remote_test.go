package protocol

import (
	"maps"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MRN-Code/multishot/privacy"
)

func twoROIConfig() *RunConfig {
	return &RunConfig{
		ROIs: []privacy.ROI{
			{Key: "roi-a", Min: 0, Max: 1},
			{Key: "roi-b", Min: 0, Max: 1},
		},
		ExpectedSites:       2,
		InitialLearningRate: 1e-4,
		Tolerance:           1e-3,
		MaxIterations:       50,
	}
}

// fixedSeed makes seeded coefficients deterministic in tests.
func fixedSeed() float64 { return 0.5 }

func resultFor(state *ModelState, gradients map[string]float64, objective, r2 float64) *LocalResult {
	return &LocalResult{
		Gradient:               gradients,
		Objective:              objective,
		R2:                     r2,
		PreviousAggregateMVals: maps.Clone(state.MVals),
	}
}

func seedRun(t *testing.T, cfg *RunConfig) *ModelState {
	t.Helper()
	out, err := RemoteStep(cfg, nil, nil, fixedSeed)
	require.NoError(t, err)
	require.Equal(t, StatusSeeded, out.Status)
	return out.State
}

func TestRemoteStepSeed(t *testing.T) {
	cfg := twoROIConfig()
	out, err := RemoteStep(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSeeded, out.Status)

	state := out.State
	require.Equal(t, 0, state.IterationCount)
	require.False(t, state.Complete)
	require.Empty(t, state.History)
	require.Equal(t, cfg.InitialLearningRate, state.LearningRate)
	require.True(t, math.IsInf(state.Objective, 1))
	require.True(t, math.IsInf(state.PreviousBestFit.Objective, 1))

	for _, k := range cfg.Keys() {
		require.GreaterOrEqual(t, state.MVals[k], 0.0)
		require.Less(t, state.MVals[k], 1.0)
		require.Zero(t, state.Gradient[k])
		require.Zero(t, state.PreviousBestFit.Gradient[k])
	}
	require.Equal(t, state.MVals, state.PreviousBestFit.MVals)
}

func TestRemoteStepInvalidConfig(t *testing.T) {
	cfg := twoROIConfig()
	cfg.ROIs = nil

	_, err := RemoteStep(cfg, nil, nil, nil)
	require.Error(t, err)

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestRemoteStepWaitsForFullResultSet(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	// No results at all.
	out, err := RemoteStep(cfg, state, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, out.Status)
	require.Same(t, state, out.State)

	// One of two expected sites.
	out, err = RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, out.Status)
	require.Same(t, state, out.State)
}

func TestRemoteStepWaitsOnStaleEcho(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	stale := resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5)
	stale.PreviousAggregateMVals["roi-a"] += 0.1

	out, err := RemoteStep(cfg, state, []*LocalResult{
		stale,
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, out.Status)
	require.Same(t, state, out.State)
}

func TestRemoteStepDropsMalformedResults(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	malformed := resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5)
	malformed.Gradient = nil

	out, err := RemoteStep(cfg, state, []*LocalResult{
		malformed,
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, out.Status)
}

func TestRemoteStepAggregates(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 2}, 5, 0.4),
		resultFor(state, map[string]float64{"roi-a": 3, "roi-b": 4}, 7, 0.6),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusContinue, out.Status)

	next := out.State
	require.NotSame(t, state, next)
	require.Equal(t, 12.0, next.Objective)
	require.Equal(t, 4.0, next.Gradient["roi-a"])
	require.Equal(t, 6.0, next.Gradient["roi-b"])
	require.InDelta(t, 0.5, next.R2, 1e-12)
	require.Equal(t, 1, next.IterationCount)
	require.Len(t, next.History, 1)
	require.Empty(t, next.Contributors)
	require.False(t, next.Complete)

	// The input state is untouched.
	require.Equal(t, 0, state.IterationCount)
	require.Empty(t, state.History)
}

func TestRemoteStepImprovedRoundKeepsRateAndAdoptsAnchor(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	// Round 1: any finite objective improves on the infinite seed anchor.
	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 2}, 10, 0.5),
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 2}, 10, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusContinue, out.Status)

	next := out.State
	require.Equal(t, cfg.InitialLearningRate, next.LearningRate)

	// The anchor adopted the pre-round fit: the seed's coefficients with
	// objective +inf replaced... by the seed's own values.
	require.Equal(t, state.MVals, next.PreviousBestFit.MVals)
	require.Equal(t, state.Gradient, next.PreviousBestFit.Gradient)

	// The descent step ran from the anchor (the seed), whose gradient is
	// zero, so coefficients do not move on the first accepted round.
	require.Equal(t, state.MVals, next.MVals)
}

func TestRemoteStepSecondRoundDescendsFromAnchor(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 2, "roi-b": 4}, 10, 0.5),
		resultFor(state, map[string]float64{"roi-a": 2, "roi-b": 4}, 10, 0.5),
	}, nil)
	require.NoError(t, err)
	round1 := out.State

	// Round 2 improves again: anchor becomes round1's fit and the step
	// descends from it along round1's aggregated gradient.
	out, err = RemoteStep(cfg, round1, []*LocalResult{
		resultFor(round1, map[string]float64{"roi-a": 1, "roi-b": 1}, 8, 0.6),
		resultFor(round1, map[string]float64{"roi-a": 1, "roi-b": 1}, 8, 0.6),
	}, nil)
	require.NoError(t, err)
	round2 := out.State

	require.Equal(t, round1.Objective, round2.PreviousBestFit.Objective)
	for _, k := range cfg.Keys() {
		expected := round1.MVals[k] - cfg.InitialLearningRate*round1.Gradient[k]
		require.InDelta(t, expected, round2.MVals[k], 1e-15)
	}
}

func TestRemoteStepRegressedRoundHalvesRateAndKeepsAnchor(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5),
		resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, 5, 0.5),
	}, nil)
	require.NoError(t, err)
	round1 := out.State
	require.Equal(t, 1e-4, round1.LearningRate)

	// Round 2 still compares against the seed anchor's infinite objective,
	// so it improves; its anchor adopts round 1's fit (objective 10).
	out, err = RemoteStep(cfg, round1, []*LocalResult{
		resultFor(round1, map[string]float64{"roi-a": 1, "roi-b": 1}, 4, 0.5),
		resultFor(round1, map[string]float64{"roi-a": 1, "roi-b": 1}, 4, 0.5),
	}, nil)
	require.NoError(t, err)
	round2 := out.State
	require.Equal(t, 1e-4, round2.LearningRate)
	require.Equal(t, round1.Objective, round2.PreviousBestFit.Objective)

	// Round 3 regresses: global objective 20 > anchor objective 10.
	out, err = RemoteStep(cfg, round2, []*LocalResult{
		resultFor(round2, map[string]float64{"roi-a": 1, "roi-b": 1}, 12, 0.3),
		resultFor(round2, map[string]float64{"roi-a": 1, "roi-b": 1}, 8, 0.3),
	}, nil)
	require.NoError(t, err)
	round3 := out.State

	require.Equal(t, 5e-5, round3.LearningRate)
	require.Equal(t, round2.PreviousBestFit, round3.PreviousBestFit)
}

func TestRemoteStepConvergence(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	// Aggregated gradient l2 norm well below the 1e-3 tolerance.
	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 1e-5, "roi-b": 1e-5}, 5, 0.5),
		resultFor(state, map[string]float64{"roi-a": 1e-5, "roi-b": 1e-5}, 5, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, out.Status)

	final := out.State
	require.True(t, final.Complete)
	require.Equal(t, state.MVals, final.MVals)
	require.Equal(t, state.LearningRate, final.LearningRate)
	require.Equal(t, 10.0, final.Objective)
	require.Len(t, final.History, 1)

	// Terminal states accept no further transitions.
	out, err = RemoteStep(cfg, final, []*LocalResult{
		resultFor(final, map[string]float64{"roi-a": 1, "roi-b": 1}, 1, 0.9),
		resultFor(final, map[string]float64{"roi-a": 1, "roi-b": 1}, 1, 0.9),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, out.Status)
	require.Same(t, final, out.State)
}

func TestRemoteStepExhaustion(t *testing.T) {
	cfg := twoROIConfig()
	cfg.MaxIterations = 2
	state := seedRun(t, cfg)

	for i := 0; i < 2; i++ {
		out, err := RemoteStep(cfg, state, []*LocalResult{
			resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, float64(5 - i), 0.5),
			resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, float64(5 - i), 0.5),
		}, nil)
		require.NoError(t, err)
		require.Equal(t, StatusContinue, out.Status)
		state = out.State
	}
	require.Equal(t, 2, state.IterationCount)
	require.False(t, state.Complete)

	// The cap gate fires before anything else on the next round.
	out, err := RemoteStep(cfg, state, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusExhausted, out.Status)
	require.True(t, out.State.Complete)
	require.Equal(t, state.MVals, out.State.MVals)
	require.Equal(t, state.IterationCount, out.State.IterationCount)

	// And the exhausted state is terminal.
	final := out.State
	out, err = RemoteStep(cfg, final, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusExhausted, out.Status)
	require.Same(t, final, out.State)
}

func TestRemoteStepHistoryGrowsPerAcceptedRound(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	const rounds = 5
	for i := 0; i < rounds; i++ {
		out, err := RemoteStep(cfg, state, []*LocalResult{
			resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, float64(10 - i), 0.5),
			resultFor(state, map[string]float64{"roi-a": 1, "roi-b": 1}, float64(10 - i), 0.5),
		}, nil)
		require.NoError(t, err)
		require.Equal(t, StatusContinue, out.Status)

		// A rejected round in between leaves history untouched.
		waiting, err := RemoteStep(cfg, out.State, nil, nil)
		require.NoError(t, err)
		require.Equal(t, StatusWaiting, waiting.Status)

		state = out.State
		require.Len(t, state.History, i+1)
	}
	require.Equal(t, rounds, state.IterationCount)
}

// Scenario from the protocol description: a seeded run whose first round
// carries moderate gradients stays live; the learning rate halves only when
// a later round regresses the objective.
func TestRemoteStepLearningRateScenario(t *testing.T) {
	cfg := twoROIConfig()
	state := seedRun(t, cfg)

	out, err := RemoteStep(cfg, state, []*LocalResult{
		resultFor(state, map[string]float64{"roi-a": 0.4, "roi-b": 0.2}, 6, 0.5),
		resultFor(state, map[string]float64{"roi-a": 0.1, "roi-b": 0.3}, 4, 0.5),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusContinue, out.Status)
	require.False(t, out.State.Complete)
	require.Equal(t, 1e-4, out.State.LearningRate)

	round1 := out.State
	out, err = RemoteStep(cfg, round1, []*LocalResult{
		resultFor(round1, map[string]float64{"roi-a": 0.3, "roi-b": 0.1}, 5, 0.6),
		resultFor(round1, map[string]float64{"roi-a": 0.2, "roi-b": 0.2}, 3, 0.6),
	}, nil)
	require.NoError(t, err)
	round2 := out.State
	require.Equal(t, 1e-4, round2.LearningRate)

	// A round with one site's gradient blown up to 100 regresses the
	// global objective: rate halves, anchor stays, run continues.
	out, err = RemoteStep(cfg, round2, []*LocalResult{
		resultFor(round2, map[string]float64{"roi-a": 100, "roi-b": 0.2}, 60, 0.1),
		resultFor(round2, map[string]float64{"roi-a": 0.1, "roi-b": 0.3}, 40, 0.1),
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 5e-5, out.State.LearningRate)
	require.Equal(t, round2.PreviousBestFit, out.State.PreviousBestFit)
}
