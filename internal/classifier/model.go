package classifier

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/species"
)

// FormatVersion identifies the artifact document layout
const FormatVersion = 1

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the classifier package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("classifier")
	})
	return pkgLogger
}

// Classifier maps embeddings to individual names. An empty name means no prediction.
type Classifier interface {
	PredictNames(x [][]float64) ([]string, error)
}

// None is the classifier of a species that has never been trained
type None struct{}

// PredictNames returns an empty name for every input
func (None) PredictNames(x [][]float64) ([]string, error) {
	return make([]string, len(x)), nil
}

// Model is a fitted pipeline with its label vocabulary, as stored in an artifact
type Model struct {
	Version   int       `json:"version"`
	Species   string    `json:"species"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []string  `json:"labels"`
	CVScore   *float64  `json:"cv_score,omitempty"`
	Folds     int       `json:"folds"`
	Examples  int       `json:"examples"`
	Pipeline  *Pipeline `json:"pipeline"`
}

// PredictNames implements Classifier
func (m *Model) PredictNames(x [][]float64) ([]string, error) {
	idx, err := m.Pipeline.Predict(x)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryInference).
			Species(m.Species).
			Build()
	}
	names := make([]string, len(idx))
	for i, j := range idx {
		if j < 0 || j >= len(m.Labels) {
			return nil, errors.Newf("class index %d outside %d labels", j, len(m.Labels)).
				Component("classifier").
				Category(errors.CategoryInference).
				Species(m.Species).
				Build()
		}
		names[i] = m.Labels[j]
	}
	return names, nil
}

// Vocabulary returns the sorted unique labels
func Vocabulary(labels []string) []string {
	vocab := slices.Clone(labels)
	slices.Sort(vocab)
	return slices.Compact(vocab)
}

// Trainer fits per-species models
type Trainer struct {
	Folds int
	Seed  uint64
}

// NewTrainer returns a trainer with the given fold count and shuffle seed
func NewTrainer(folds int, seed uint64) *Trainer {
	if folds < 2 {
		folds = DefaultFolds
	}
	return &Trainer{Folds: folds, Seed: seed}
}

// Train searches the grid on x/labels, refits the winner on all rows and returns the model
func (t *Trainer) Train(sp species.Species, x [][]float64, labels []string) (*Model, error) {
	if len(x) == 0 || len(x) != len(labels) {
		return nil, errors.Newf("cannot train %s on %d embeddings with %d labels", sp, len(x), len(labels)).
			Component("classifier").
			Category(errors.CategoryTraining).
			Build()
	}

	vocab := Vocabulary(labels)
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i], _ = slices.BinarySearch(vocab, l)
	}

	start := time.Now()
	res := GridSearch(x, y, t.Folds, t.Seed)
	pipe := NewPipeline(res.Params)
	if err := pipe.Fit(x, y); err != nil {
		return nil, errors.New(fmt.Errorf("fit %s: %w", res.Params, err)).
			Component("classifier").
			Category(errors.CategoryTraining).
			Species(sp.ID()).
			Timing("grid-search", time.Since(start)).
			Build()
	}

	m := &Model{
		Version:   FormatVersion,
		Species:   sp.ID(),
		CreatedAt: time.Now().UTC(),
		Labels:    vocab,
		Folds:     res.Folds,
		Examples:  len(x),
		Pipeline:  pipe,
	}
	if res.Folds > 0 && !math.IsNaN(res.Score) {
		score := res.Score
		m.CVScore = &score
	}

	GetLogger().Info("classifier fitted",
		logger.String("species", sp.ID()),
		logger.String("params", res.Params.String()),
		logger.Int("examples", len(x)),
		logger.Int("individuals", len(vocab)),
		logger.Duration("elapsed", time.Since(start)))
	return m, nil
}

// Accuracy returns the cross-validation score, or 0 when no search ran
func (m *Model) Accuracy() float64 {
	if m.CVScore == nil {
		return 0
	}
	return *m.CVScore
}
