package testutil

import (
	"golang.org/x/exp/rand"

	"github.com/MRN-Code/multishot/privacy"
	"github.com/MRN-Code/multishot/protocol"
)

// ConfigOption customizes a generated test configuration.
type ConfigOption func(*protocol.RunConfig)

// WithROIKeys sets the ROI key set, each with a [0, 1] value range.
func WithROIKeys(keys ...string) ConfigOption {
	return func(cfg *protocol.RunConfig) {
		rois := make([]privacy.ROI, len(keys))
		for i, k := range keys {
			rois[i] = privacy.ROI{Key: k, Min: 0, Max: 1}
		}
		cfg.ROIs = rois
	}
}

// WithExpectedSites sets the participant count.
func WithExpectedSites(n int) ConfigOption {
	return func(cfg *protocol.RunConfig) { cfg.ExpectedSites = n }
}

// WithLearningRate sets the initial learning rate.
func WithLearningRate(rate float64) ConfigOption {
	return func(cfg *protocol.RunConfig) { cfg.InitialLearningRate = rate }
}

// WithTolerance sets the convergence tolerance.
func WithTolerance(tol float64) ConfigOption {
	return func(cfg *protocol.RunConfig) { cfg.Tolerance = tol }
}

// WithMaxIterations sets the accepted-round cap.
func WithMaxIterations(n int) ConfigOption {
	return func(cfg *protocol.RunConfig) { cfg.MaxIterations = n }
}

// WithLambda sets the ridge penalty weight.
func WithLambda(lambda float64) ConfigOption {
	return func(cfg *protocol.RunConfig) { cfg.Lambda = lambda }
}

// NewTestConfig creates a run configuration with sensible test defaults:
// one site, two ROIs, and a generous iteration budget.
func NewTestConfig(options ...ConfigOption) *protocol.RunConfig {
	cfg := &protocol.RunConfig{
		ROIs: []privacy.ROI{
			{Key: "roi-a", Min: 0, Max: 1},
			{Key: "roi-b", Min: 0, Max: 1},
		},
		ExpectedSites:       1,
		InitialLearningRate: 1e-2,
		Tolerance:           1e-3,
		MaxIterations:       500,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// SyntheticSiteData generates one participant's predictor and response
// matrices from known ground-truth coefficients. Predictors are drawn
// uniformly, responses are the linear combination under truth plus small
// gaussian noise. The site index seeds the generator, so the same site
// always receives the same data.
func SyntheticSiteData(site int, cfg *protocol.RunConfig, truth map[string]float64, subjects int) (predictors, responses [][]float64) {
	rng := rand.New(rand.NewSource(uint64(site + 1)))
	keys := cfg.Keys()

	predictors = make([][]float64, subjects)
	responses = make([][]float64, subjects)
	for i := 0; i < subjects; i++ {
		row := make([]float64, len(keys))
		y := 0.0
		for j, k := range keys {
			row[j] = rng.Float64()
			y += truth[k] * row[j]
		}
		predictors[i] = row
		responses[i] = []float64{y + rng.NormFloat64()*0.01}
	}
	return predictors, responses
}

// CorrelatedSiteData generates single-ROI data whose predictor and response
// columns are perfectly correlated. Both z-score to identical columns, so
// the normalized fit has an exact solution at coefficient one.
func CorrelatedSiteData(subjects int) (predictors, responses [][]float64) {
	predictors = make([][]float64, subjects)
	responses = make([][]float64, subjects)
	for i := 0; i < subjects; i++ {
		predictors[i] = []float64{float64(i + 1)}
		responses[i] = []float64{float64((i + 1) * 10)}
	}
	return predictors, responses
}
