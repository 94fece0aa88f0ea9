// Package detector finds animals in photos and maps the detector's boxes back to original pixels.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the detector package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("detector")
	})
	return pkgLogger
}

// Detector runs a Model and returns candidates in original image coordinates
type Detector struct {
	model Model
	post  Postprocessor
}

// New creates a detector. Postprocessors run after rescaling, in order.
func New(model Model, post ...Postprocessor) *Detector {
	return &Detector{model: model, post: Chain(post...)}
}

// InputSize returns the model's square input resolution
func (d *Detector) InputSize() int {
	return d.model.InputSize()
}

// Detect returns every candidate for img. An image with no surviving candidates yields
// exactly one undetected sentinel.
func (d *Detector) Detect(ctx context.Context, img *imageio.InputImage) ([]Candidate, error) {
	start := time.Now()
	raw, err := d.model.Infer(ctx, img.Resized)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryInference).
			Context("image_id", img.ID).
			Timing("detect", time.Since(start)).
			Build()
	}

	res := img.Resized.Bounds().Dx()
	candidates := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		box, err := Rescale(r.X1, r.Y1, r.X2, r.Y2, res, img.Width, img.Height)
		if err != nil {
			GetLogger().Debug("dropping malformed detection",
				logger.String("image_id", img.ID),
				logger.Error(err))
			continue
		}
		if box.Empty() {
			continue
		}
		candidates = append(candidates, Candidate{
			ImageID:    img.ID,
			Box:        &box,
			Confidence: r.Score,
			Label:      r.Label,
			ClassID:    r.ClassID,
		})
	}

	candidates = d.post(candidates)
	if len(candidates) == 0 {
		return []Candidate{NewUndetected(img.ID)}, nil
	}

	GetLogger().Debug("detections",
		logger.String("image_id", img.ID),
		logger.Int("count", len(candidates)),
		logger.Duration("elapsed", time.Since(start)))
	return candidates, nil
}
