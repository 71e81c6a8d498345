package numeric

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MissingKeyError reports a key present in the ordered key set but absent
// from the map being unzipped, or a length mismatch while zipping.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("numeric: key %q missing from keyed vector", e.Key)
}

// Zip pairs an ordered value slice with an ordered key slice into a map.
// The two slices must have equal length.
func Zip(values []float64, keys []string) (map[string]float64, error) {
	if len(values) != len(keys) {
		return nil, &MissingKeyError{Key: fmt.Sprintf("(%d values for %d keys)", len(values), len(keys))}
	}

	out := make(map[string]float64, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out, nil
}

// Unzip recovers the ordered value slice for keys from a keyed map. Every
// key must be present; Unzip(Zip(v, keys), keys) == v for equal-length
// ordered inputs.
func Unzip(keyed map[string]float64, keys []string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, ok := keyed[k]
		if !ok {
			return nil, &MissingKeyError{Key: k}
		}
		out[i] = v
	}
	return out, nil
}

// ColumnSums returns the per-column sum of a matrix.
func ColumnSums(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	sums := make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		sums[j] = floats.Sum(col)
	}
	return sums
}

// ColumnMeans returns the per-column mean of a matrix.
func ColumnMeans(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	sums := ColumnSums(m)
	if rows == 0 {
		return sums
	}
	floats.Scale(1/float64(rows), sums)
	return sums
}

// Norm returns the l2 norm of v.
func Norm(v []float64) float64 {
	return floats.Norm(v, 2)
}

// Mean returns the arithmetic mean of v, and 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v) / float64(len(v))
}
