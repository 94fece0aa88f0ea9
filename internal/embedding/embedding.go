// Package embedding turns animal crops into L2-normalised feature vectors with a convolutional backbone.
package embedding

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

// DefaultInputSize is the backbone's square input resolution
const DefaultInputSize = 224

// ImageNet channel statistics the backbone was trained with
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the embedding package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("embedding")
	})
	return pkgLogger
}

// Backbone maps one preprocessed NHWC image to a feature vector
type Backbone interface {
	Forward(ctx context.Context, input []float32) ([]float32, error)
	Close()
}

// Loader opens a backbone model file
type Loader func(path string) (Backbone, error)

// Extractor embeds images with a swappable backbone. The backbone is not reentrant, so
// forward passes are serialised.
type Extractor struct {
	mu        sync.Mutex
	backbone  Backbone
	path      string
	inputSize int
	load      Loader
	recorder  metrics.Recorder
}

// Option configures an Extractor
type Option func(*Extractor)

// WithRecorder records embedding durations and failures
func WithRecorder(rec metrics.Recorder) Option {
	return func(e *Extractor) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// WithLoader sets the loader used by Reload
func WithLoader(load Loader) Option {
	return func(e *Extractor) { e.load = load }
}

// NewExtractor wraps an opened backbone. path identifies the loaded model in logs.
func NewExtractor(backbone Backbone, path string, inputSize int, opts ...Option) *Extractor {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	e := &Extractor{
		backbone:  backbone,
		path:      path,
		inputSize: inputSize,
		recorder:  metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InputSize returns the backbone resolution
func (e *Extractor) InputSize() int {
	return e.inputSize
}

// ModelPath returns the path of the backbone currently in use
func (e *Extractor) ModelPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Extract embeds every image. Row i of the result belongs to imgs[i].
func (e *Extractor) Extract(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	start := time.Now()
	out, err := e.extract(ctx, imgs)
	e.recorder.RecordDuration(metrics.OpEmbed, time.Since(start).Seconds())
	if err != nil {
		e.recorder.RecordOperation(metrics.OpEmbed, metrics.StatusError)
		e.recorder.RecordError(metrics.OpEmbed, string(errors.CategoryOf(err)))
		return nil, err
	}
	e.recorder.RecordOperation(metrics.OpEmbed, metrics.StatusSuccess)
	return out, nil
}

func (e *Extractor) extract(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	out := make([][]float32, len(imgs))
	if len(imgs) == 0 {
		return out, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dim := -1
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Component("embedding").
				Category(errors.CategoryCancellation).
				Build()
		}
		input, err := Preprocess(img, e.inputSize)
		if err != nil {
			return nil, err
		}
		vec, err := e.backbone.Forward(ctx, input)
		if err != nil {
			return nil, errors.New(err).
				Component("embedding").
				Category(errors.CategoryInference).
				Context("index", i).
				Model(e.path).
				Build()
		}
		if dim >= 0 && len(vec) != dim {
			return nil, errors.Newf("backbone returned %d features for image %d, expected %d", len(vec), i, dim).
				Component("embedding").
				Category(errors.CategoryInference).
				Build()
		}
		dim = len(vec)
		out[i] = Normalize(vec)
	}
	return out, nil
}

// Reload replaces the backbone with the model at path. The current backbone stays in use
// when loading fails.
func (e *Extractor) Reload(path string) error {
	if e.load == nil {
		return errors.Newf("extractor has no backbone loader").
			Component("embedding").
			Category(errors.CategoryConfiguration).
			Build()
	}
	next, err := e.load(path)
	if err != nil {
		return errors.New(err).
			Component("embedding").
			Category(errors.CategoryModelLoad).
			Model(path).
			Build()
	}

	e.mu.Lock()
	prev, prevPath := e.backbone, e.path
	e.backbone, e.path = next, path
	e.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	GetLogger().Info("backbone reloaded",
		logger.String("previous", prevPath),
		logger.String("current", path))
	return nil
}

// Close releases the backbone
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backbone != nil {
		e.backbone.Close()
		e.backbone = nil
	}
}

// Preprocess resizes img to size x size and returns channel-normalised NHWC float32 values
func Preprocess(img image.Image, size int) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New(fmt.Errorf("cannot embed a %dx%d image", b.Dx(), b.Dy())).
			Component("embedding").
			Category(errors.CategoryValidation).
			Build()
	}
	if b.Dx() != size || b.Dy() != size {
		img = imageio.Resize(img, size, size)
		b = img.Bounds()
	}

	out := make([]float32, 0, size*size*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out,
				(float32(r>>8)/255-channelMean[0])/channelStd[0],
				(float32(g>>8)/255-channelMean[1])/channelStd[1],
				(float32(bl>>8)/255-channelMean[2])/channelStd[2])
		}
	}
	return out, nil
}

// Normalize returns vec scaled to unit L2 norm. A zero vector is returned as zeros.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}

// ToFloat64 widens embeddings for the classifier
func ToFloat64(rows [][]float32) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = float64(v)
		}
	}
	return out
}
