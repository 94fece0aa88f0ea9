// Package classifier fits and serves the per-species individual classifiers:
// standard scaling, PCA and a k-nearest-neighbour vote, selected by cross-validated grid search.
package classifier

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Params is one point of the hyperparameter grid
type Params struct {
	PCAVariance float64 `json:"pca_variance"`
	K           int     `json:"k"`
	Weights     string  `json:"weights"`
	Metric      string  `json:"metric"`
}

// String implements fmt.Stringer
func (p Params) String() string {
	return fmt.Sprintf("pca=%.2f k=%d weights=%s metric=%s", p.PCAVariance, p.K, p.Weights, p.Metric)
}

// Pipeline chains scaler, PCA and KNN
type Pipeline struct {
	Params Params         `json:"params"`
	Scaler StandardScaler `json:"scaler"`
	PCA    PCA            `json:"pca"`
	KNN    KNN            `json:"knn"`
}

// NewPipeline creates an unfitted pipeline
func NewPipeline(p Params) *Pipeline {
	return &Pipeline{
		Params: p,
		PCA:    PCA{VarianceFraction: p.PCAVariance},
		KNN:    KNN{K: p.K, Weights: p.Weights, Metric: p.Metric},
	}
}

// Fit trains every stage on x with integer class targets y
func (p *Pipeline) Fit(x [][]float64, y []int) error {
	m, err := toDense(x)
	if err != nil {
		return err
	}
	p.Scaler.Fit(m)
	scaled := p.Scaler.Transform(m)
	if err := p.PCA.Fit(scaled); err != nil {
		return err
	}
	return p.KNN.Fit(p.PCA.Transform(scaled), y)
}

// Predict returns class indices for x
func (p *Pipeline) Predict(x [][]float64) ([]int, error) {
	if len(x) == 0 {
		return []int{}, nil
	}
	m, err := toDense(x)
	if err != nil {
		return nil, err
	}
	if _, c := m.Dims(); c != len(p.Scaler.Mean) {
		return nil, fmt.Errorf("classifier: input has %d features, model was fitted on %d", c, len(p.Scaler.Mean))
	}
	return p.KNN.Predict(p.PCA.Transform(p.Scaler.Transform(m)))
}

func toDense(x [][]float64) (*mat.Dense, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, fmt.Errorf("classifier: empty input")
	}
	c := len(x[0])
	data := make([]float64, 0, len(x)*c)
	for i, row := range x {
		if len(row) != c {
			return nil, fmt.Errorf("classifier: row %d has %d features, expected %d", i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(x), c, data), nil
}
