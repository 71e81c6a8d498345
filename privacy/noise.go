// Package privacy calibrates and injects Laplace noise for the
// privacy-preserving simple-average mode of the multishot protocol.
//
// The calibration is the classic Laplace mechanism: a statistic computed
// over n contributions, each bounded to a region of interest's [Min, Max]
// range, has sensitivity (Max-Min)/n; dividing by the privacy budget epsilon
// yields the scale of the zero-centered Laplace distribution whose draws
// bound what any single contributor's data can reveal.
//
// Scale computation is pure and separately testable. Draws are sampled fresh
// on every call and never cached.
package privacy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/MRN-Code/multishot/numeric"
)

// ROI describes one region of interest: its key and the value bounds each
// contribution is clamped to. The bounds drive sensitivity only; the
// regression core never consults them.
type ROI struct {
	Key string  `json:"key" yaml:"key"`
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Sensitivity returns how much one contributor can move an n-contribution
// average of values bounded to roi's range.
func Sensitivity(roi ROI, n int) float64 {
	return (roi.Max - roi.Min) / float64(n)
}

// LaplaceScale returns the Laplace scale parameter for the given ROI,
// contribution count and privacy budget.
func LaplaceScale(roi ROI, n int, epsilon float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("privacy: contribution count must be positive, got %d", n)
	}
	if epsilon <= 0 {
		return 0, fmt.Errorf("privacy: epsilon must be positive, got %v", epsilon)
	}
	return Sensitivity(roi, n) / epsilon, nil
}

// Injector adds calibrated Laplace noise. The zero value uses the shared
// global randomness source; tests may install a seeded source.
type Injector struct {
	Src rand.Source
}

// AddNoise perturbs value with a fresh draw from a zero-location Laplace
// distribution calibrated to the ROI's sensitivity and epsilon.
func (in Injector) AddNoise(value float64, roi ROI, n int, epsilon float64) (float64, error) {
	scale, err := LaplaceScale(roi, n, epsilon)
	if err != nil {
		return 0, err
	}

	dist := distuv.Laplace{Mu: 0, Scale: scale, Src: in.Src}
	return value + dist.Rand(), nil
}

// NoisyAverage implements the single-round privacy-preserving average mode:
// the mean of the contributions for one ROI, perturbed by noise calibrated
// to the contribution count.
func (in Injector) NoisyAverage(values []float64, roi ROI, epsilon float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("privacy: cannot average zero contributions")
	}
	return in.AddNoise(numeric.Mean(values), roi, len(values), epsilon)
}
