package classifier

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PCA projects centred data onto its leading principal axes
type PCA struct {
	// VarianceFraction selects the smallest number of components whose cumulative explained
	// variance ratio exceeds it.
	VarianceFraction float64 `json:"variance_fraction"`

	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"` // one principal axis per row
	Explained  []float64   `json:"explained_variance_ratio"`
}

// Fit computes the principal axes of x with a thin SVD
func (p *PCA) Fit(x *mat.Dense) error {
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return fmt.Errorf("pca: empty input %dx%d", r, c)
	}

	p.Mean = make([]float64, c)
	col := make([]float64, r)
	for j := range c {
		mat.Col(col, j, x)
		p.Mean[j] = floats.Sum(col) / float64(r)
	}
	centred := mat.NewDense(r, c, nil)
	centred.Apply(func(_, j int, v float64) float64 { return v - p.Mean[j] }, x)

	var svd mat.SVD
	if !svd.Factorize(centred, mat.SVDThin) {
		return fmt.Errorf("pca: SVD did not converge")
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	total := 0.0
	for _, s := range values {
		total += s * s
	}
	ratios := make([]float64, len(values))
	if total > 0 {
		for i, s := range values {
			ratios[i] = s * s / total
		}
	}

	keep := componentCount(ratios, p.VarianceFraction, total == 0)
	p.Components = make([][]float64, keep)
	for i := range keep {
		axis := mat.Col(nil, i, &v)
		flipSign(axis)
		p.Components[i] = axis
	}
	p.Explained = ratios[:keep]
	return nil
}

// componentCount picks how many leading components reach the variance fraction
func componentCount(ratios []float64, fraction float64, degenerate bool) int {
	n := len(ratios)
	if degenerate || fraction <= 0 || fraction >= 1 {
		return n
	}
	cumulative := make([]float64, n)
	floats.CumSum(cumulative, ratios)
	// first index whose cumulative ratio is strictly above the fraction
	idx := sort.Search(n, func(i int) bool { return cumulative[i] > fraction })
	return min(idx+1, n)
}

// flipSign makes the largest magnitude entry positive so axes are deterministic
func flipSign(axis []float64) {
	best := 0
	for i, v := range axis {
		if math.Abs(v) > math.Abs(axis[best]) {
			best = i
		}
	}
	if axis[best] < 0 {
		floats.Scale(-1, axis)
	}
}

// Transform projects x onto the kept components
func (p *PCA) Transform(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	k := len(p.Components)
	out := mat.NewDense(r, k, nil)
	row := make([]float64, c)
	for i := range r {
		mat.Row(row, i, x)
		floats.Sub(row, p.Mean)
		for j, axis := range p.Components {
			out.Set(i, j, floats.Dot(row, axis))
		}
	}
	return out
}
