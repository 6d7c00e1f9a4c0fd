package clustering

import (
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit (population) variance.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-column mean and standard deviation. Constant columns get scale 1.
func FitScaler(X [][]float64) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	d := len(X[0])
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std < 1e-12 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

// Transform returns a standardized copy of X.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, len(row))
		for j, v := range row {
			z[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = z
	}
	return out
}

// Inverse maps standardized points back to original units.
func (s *Scaler) Inverse(Z [][]float64) [][]float64 {
	out := make([][]float64, len(Z))
	for i, row := range Z {
		x := make([]float64, len(row))
		for j, v := range row {
			x[j] = v*s.Scale[j] + s.Mean[j]
		}
		out[i] = x
	}
	return out
}
