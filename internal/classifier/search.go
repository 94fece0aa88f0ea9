package classifier

import (
	"math"
	"math/rand/v2"
)

// Grid axes, searched with the metric varying slowest and the PCA fraction fastest
var (
	gridPCA     = []float64{0.8, 0.9, 0.95, 0.99}
	gridK       = []int{1, 3, 5, 10}
	gridWeights = []string{WeightsUniform, WeightsDistance}
	gridMetric  = []string{MetricEuclidean, MetricManhattan, MetricCosine}
)

// DefaultFolds is the number of cross-validation folds
const DefaultFolds = 5

// Grid returns every hyperparameter candidate in search order
func Grid() []Params {
	out := make([]Params, 0, len(gridPCA)*len(gridK)*len(gridWeights)*len(gridMetric))
	for _, metric := range gridMetric {
		for _, k := range gridK {
			for _, w := range gridWeights {
				for _, v := range gridPCA {
					out = append(out, Params{PCAVariance: v, K: k, Weights: w, Metric: metric})
				}
			}
		}
	}
	return out
}

// Fold is one train/test split of sample indices
type Fold struct {
	Train []int
	Test  []int
}

// KFold shuffles 0..n-1 with seed and splits it into k folds. The first n%k folds hold one
// extra sample.
func KFold(n, k int, seed uint64) []Fold {
	if k < 2 || n < k {
		return nil
	}
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)

	folds := make([]Fold, k)
	start := 0
	for i := range k {
		size := n / k
		if i < n%k {
			size++
		}
		test := append([]int(nil), perm[start:start+size]...)
		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[start+size:]...)
		folds[i] = Fold{Train: train, Test: test}
		start += size
	}
	return folds
}

// Result is the outcome of a grid search
type Result struct {
	Params Params
	Score  float64 // mean fold accuracy, NaN when a fold failed
	Folds  int
}

// GridSearch scores every grid point by k-fold accuracy and returns the best one.
// Candidates that fail any fold rank below every candidate that completed all folds;
// ties keep the earlier grid point.
func GridSearch(x [][]float64, y []int, folds int, seed uint64) Result {
	n := len(x)
	grid := Grid()
	if n < 2 {
		p := grid[0]
		p.K = max(1, min(p.K, n))
		return Result{Params: p, Score: math.NaN()}
	}
	if folds < 2 {
		folds = DefaultFolds
	}
	folds = min(folds, n)
	splits := KFold(n, folds, seed)

	best := Result{Params: grid[0], Score: math.NaN(), Folds: folds}
	for _, p := range grid {
		score := crossValidate(p, x, y, splits)
		if math.IsNaN(score) {
			continue
		}
		if math.IsNaN(best.Score) || score > best.Score {
			best = Result{Params: p, Score: score, Folds: folds}
		}
	}
	return best
}

func crossValidate(p Params, x [][]float64, y []int, splits []Fold) float64 {
	total := 0.0
	for _, f := range splits {
		if p.K > len(f.Train) {
			return math.NaN()
		}
		pipe := NewPipeline(p)
		if err := pipe.Fit(pick(x, f.Train), pickInts(y, f.Train)); err != nil {
			return math.NaN()
		}
		pred, err := pipe.Predict(pick(x, f.Test))
		if err != nil {
			return math.NaN()
		}
		correct := 0
		for i, idx := range f.Test {
			if pred[i] == y[idx] {
				correct++
			}
		}
		total += float64(correct) / float64(len(f.Test))
	}
	return total / float64(len(splits))
}

func pick(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func pickInts(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
