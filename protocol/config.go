package protocol

import "github.com/MRN-Code/multishot/privacy"

// RunConfig carries the algorithm constants for one regression run. Every
// value is caller-supplied; nothing is defaulted internally, and the config
// is passed explicitly into both LocalStep and RemoteStep.
//
// The ordered ROI key set must be identical and stable for the entire run.
// Any divergence is a fatal configuration error, not a retryable condition.
type RunConfig struct {
	// ROIs lists the regions of interest, in wire order. Keys drive the
	// composition of every gradient and coefficient vector; Min/Max bounds
	// are consulted only by the privacy-preserving average mode.
	ROIs []privacy.ROI `json:"rois" yaml:"rois"`

	// ExpectedSites is the number of participant results a round must
	// collect before aggregation may run.
	ExpectedSites int `json:"expected_sites" yaml:"expected_sites"`

	// InitialLearningRate seeds the adaptive step size.
	InitialLearningRate float64 `json:"initial_learning_rate" yaml:"initial_learning_rate"`

	// Tolerance is the l2-norm threshold on the aggregated gradient below
	// which the run is converged.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`

	// MaxIterations caps the number of accepted rounds.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// Lambda is the ridge penalty weight. Zero reduces to ordinary least
	// squares.
	Lambda float64 `json:"lambda" yaml:"lambda"`

	// Epsilon is the privacy budget for the noisy-average mode. Unused by
	// the regression itself.
	Epsilon float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
}

// Keys returns the ordered ROI key set.
func (c *RunConfig) Keys() []string {
	keys := make([]string, len(c.ROIs))
	for i, roi := range c.ROIs {
		keys[i] = roi.Key
	}
	return keys
}

// Validate checks the run configuration. Any failure is a
// *ConfigurationError and aborts the run.
func (c *RunConfig) Validate() error {
	if len(c.ROIs) == 0 {
		return &ConfigurationError{Reason: "ROI key set is empty"}
	}
	seen := make(map[string]bool, len(c.ROIs))
	for _, roi := range c.ROIs {
		if roi.Key == "" {
			return &ConfigurationError{Reason: "ROI with empty key"}
		}
		if seen[roi.Key] {
			return &ConfigurationError{Reason: "duplicate ROI key " + roi.Key}
		}
		seen[roi.Key] = true
	}
	if c.ExpectedSites <= 0 {
		return &ConfigurationError{Reason: "expected site count must be positive"}
	}
	if c.InitialLearningRate <= 0 {
		return &ConfigurationError{Reason: "initial learning rate must be positive"}
	}
	if c.Tolerance <= 0 {
		return &ConfigurationError{Reason: "tolerance must be positive"}
	}
	if c.MaxIterations <= 0 {
		return &ConfigurationError{Reason: "max iterations must be positive"}
	}
	if c.Lambda < 0 {
		return &ConfigurationError{Reason: "lambda must be non-negative"}
	}
	return nil
}
