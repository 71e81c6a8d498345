package numeric

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Strategy transforms one column of a data matrix in place. It receives the
// column as a plain slice and is free to rescale it however it likes.
type Strategy func(col []float64)

// ZScore rescales a column to zero mean and unit variance, using the sample
// standard deviation. A constant column is centered only, since dividing by
// a zero deviation would poison the whole matrix with NaNs.
func ZScore(col []float64) {
	mean, std := stat.MeanStdDev(col, nil)
	for i := range col {
		col[i] -= mean
	}
	if std == 0 {
		return
	}
	for i := range col {
		col[i] /= std
	}
}

// Normalize returns a copy of m with every column rescaled by the given
// strategy. A nil strategy means ZScore.
func Normalize(m *mat.Dense, strategy Strategy) *mat.Dense {
	if strategy == nil {
		strategy = ZScore
	}

	rows, cols := m.Dims()
	out := mat.DenseCopyOf(m)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, out)
		strategy(col)
		out.SetCol(j, col)
	}
	return out
}

// NormalizeVector rescales a copy of v by the given strategy (ZScore if nil).
func NormalizeVector(v []float64, strategy Strategy) []float64 {
	if strategy == nil {
		strategy = ZScore
	}
	out := make([]float64, len(v))
	copy(out, v)
	strategy(out)
	return out
}
