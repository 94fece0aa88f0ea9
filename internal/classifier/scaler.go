package classifier

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres features and scales them to unit population variance
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit learns per-column mean and standard deviation. Constant columns get a scale of 1.
func (s *StandardScaler) Fit(x *mat.Dense) {
	r, c := x.Dims()
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := range c {
		mat.Col(col, j, x)
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Scale[j] = std
	}
}

// Transform returns a scaled copy of x
func (s *StandardScaler) Transform(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}
