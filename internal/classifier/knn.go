package classifier

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Neighbour weighting schemes
const (
	WeightsUniform  = "uniform"
	WeightsDistance = "distance"
)

// Distance metrics
const (
	MetricEuclidean = "euclidean"
	MetricManhattan = "manhattan"
	MetricCosine    = "cosine"
)

// KNN is a k-nearest-neighbour vote over stored training points
type KNN struct {
	K        int         `json:"k"`
	Weights  string      `json:"weights"`
	Metric   string      `json:"metric"`
	Points   [][]float64 `json:"points"`
	Targets  []int       `json:"targets"`
	NClasses int         `json:"n_classes"`
}

// Fit stores the training points. k must not exceed the number of points.
func (k *KNN) Fit(x *mat.Dense, y []int) error {
	r, _ := x.Dims()
	if r != len(y) {
		return fmt.Errorf("knn: %d rows but %d targets", r, len(y))
	}
	if k.K < 1 || k.K > r {
		return fmt.Errorf("knn: k=%d with %d training points", k.K, r)
	}
	if _, err := distanceFunc(k.Metric); err != nil {
		return err
	}
	if k.Weights != WeightsUniform && k.Weights != WeightsDistance {
		return fmt.Errorf("knn: unknown weights %q", k.Weights)
	}
	k.Points = make([][]float64, r)
	for i := range r {
		k.Points[i] = mat.Row(nil, i, x)
	}
	k.Targets = append([]int(nil), y...)
	k.NClasses = 0
	for _, t := range y {
		k.NClasses = max(k.NClasses, t+1)
	}
	return nil
}

type neighbour struct {
	dist  float64
	index int
}

// Predict returns the winning class index for each row of x. Vote ties go to the lower class index.
func (k *KNN) Predict(x *mat.Dense) ([]int, error) {
	dist, err := distanceFunc(k.Metric)
	if err != nil {
		return nil, err
	}
	r, c := x.Dims()
	if len(k.Points) > 0 && len(k.Points[0]) != c {
		return nil, fmt.Errorf("knn: query has %d features, model has %d", c, len(k.Points[0]))
	}

	out := make([]int, r)
	query := make([]float64, c)
	nbrs := make([]neighbour, len(k.Points))
	votes := make([]float64, k.NClasses)
	for i := range r {
		mat.Row(query, i, x)
		for j, p := range k.Points {
			nbrs[j] = neighbour{dist: dist(query, p), index: j}
		}
		sort.SliceStable(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
		nearest := nbrs[:min(k.K, len(nbrs))]

		clear(votes)
		exact := false
		if k.Weights == WeightsDistance {
			for _, n := range nearest {
				if n.dist == 0 {
					exact = true
					break
				}
			}
		}
		for _, n := range nearest {
			w := 1.0
			if k.Weights == WeightsDistance {
				switch {
				case exact && n.dist == 0:
					w = 1
				case exact:
					w = 0
				default:
					w = 1 / n.dist
				}
			}
			votes[k.Targets[n.index]] += w
		}
		out[i] = floats.MaxIdx(votes)
	}
	return out, nil
}

func distanceFunc(metric string) (func(a, b []float64) float64, error) {
	switch metric {
	case MetricEuclidean:
		return func(a, b []float64) float64 { return floats.Distance(a, b, 2) }, nil
	case MetricManhattan:
		return func(a, b []float64) float64 { return floats.Distance(a, b, 1) }, nil
	case MetricCosine:
		return cosineDistance, nil
	default:
		return nil, fmt.Errorf("knn: unknown metric %q", metric)
	}
}

func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	return math.Max(d, 0)
}
