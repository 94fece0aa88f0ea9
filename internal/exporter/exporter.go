// Package exporter produces the cropped and annotated artifacts of a detection and
// stores both before reporting success.
package exporter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

// DefaultJPEGQuality is used when no quality is configured
const DefaultJPEGQuality = 90

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the exporter package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("exporter")
	})
	return pkgLogger
}

// Artifacts are the blob keys of one exported detection
type Artifacts struct {
	Cropped   string
	Annotated string
}

// Exporter crops, annotates and uploads detections
type Exporter struct {
	blobs         blobstore.Store
	outputsPrefix string
	quality       int
	recorder      metrics.Recorder
}

// New creates an exporter writing below outputsPrefix. A nil recorder disables metrics.
func New(blobs blobstore.Store, outputsPrefix string, quality int, rec metrics.Recorder) *Exporter {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Exporter{
		blobs:         blobs,
		outputsPrefix: strings.TrimSuffix(outputsPrefix, "/"),
		quality:       quality,
		recorder:      rec,
	}
}

// Keys returns the deterministic destination keys
// {outputs}/{collection}/{cropped|annotated}/{species}/{ordinal}_{base name}
func (e *Exporter) Keys(collectionID string, ordinal int, imageID, species string) Artifacts {
	name := fmt.Sprintf("%d_%s", ordinal, baseName(imageID))
	species = pathSegment(species)
	return Artifacts{
		Cropped:   blobstore.Join(e.outputsPrefix, collectionID, "cropped", species, name),
		Annotated: blobstore.Join(e.outputsPrefix, collectionID, "annotated", species, name),
	}
}

// Export stores a crop of the candidate's box and a copy of the full image with the box drawn.
// Both uploads complete before it returns; when the second fails the first is removed.
func (e *Exporter) Export(ctx context.Context, collectionID string, ordinal int, img *imageio.InputImage, cand detector.Candidate) (Artifacts, error) {
	start := time.Now()
	arts, err := e.export(ctx, collectionID, ordinal, img, cand)
	e.recorder.RecordDuration(metrics.OpExport, time.Since(start).Seconds())
	if err != nil {
		e.recorder.RecordOperation(metrics.OpExport, metrics.StatusError)
		e.recorder.RecordError(metrics.OpExport, string(errors.CategoryOf(err)))
		return Artifacts{}, err
	}
	e.recorder.RecordOperation(metrics.OpExport, metrics.StatusSuccess)
	return arts, nil
}

func (e *Exporter) export(ctx context.Context, collectionID string, ordinal int, img *imageio.InputImage, cand detector.Candidate) (Artifacts, error) {
	if cand.IsUndetected() {
		return Artifacts{}, exportError(errors.NewStd("candidate has no bounding box"), img.ID, errors.CategoryValidation)
	}
	rect := cand.Box.Rect().Intersect(img.Image.Bounds())
	if rect.Empty() {
		return Artifacts{}, exportError(fmt.Errorf("bounding box %v lies outside the image", cand.Box.Rect()), img.ID, errors.CategoryValidation)
	}

	cropped, err := imageio.JPEGBytes(imageio.Crop(img.Image, rect), e.quality)
	if err != nil {
		return Artifacts{}, exportError(err, img.ID, errors.CategoryImageDecode)
	}
	annotated, err := e.annotate(img.Image, rect, cand)
	if err != nil {
		return Artifacts{}, exportError(err, img.ID, errors.CategoryImageDecode)
	}

	arts := e.Keys(collectionID, ordinal, img.ID, cand.Label)
	if err := e.blobs.Put(ctx, arts.Cropped, bytes.NewReader(cropped)); err != nil {
		return Artifacts{}, exportError(err, img.ID, errors.CategoryStorage)
	}
	if err := e.blobs.Put(ctx, arts.Annotated, bytes.NewReader(annotated)); err != nil {
		// no annotation may reference a half exported candidate
		if delErr := e.blobs.Delete(context.WithoutCancel(ctx), arts.Cropped); delErr != nil {
			GetLogger().Warn("failed to remove orphaned crop",
				logger.String("key", arts.Cropped),
				logger.Error(delErr))
		}
		return Artifacts{}, exportError(err, img.ID, errors.CategoryStorage)
	}

	GetLogger().Debug("exported detection",
		logger.String("image_id", img.ID),
		logger.Int("ordinal", ordinal),
		logger.String("cropped", arts.Cropped))
	return arts, nil
}

func (e *Exporter) annotate(src image.Image, rect image.Rectangle, cand detector.Candidate) ([]byte, error) {
	drawn := imageio.DrawOverlays(src, []imageio.Overlay{{Rect: rect, Label: cand.OverlayLabel()}})
	return imageio.JPEGBytes(drawn, e.quality)
}

func exportError(err error, imageID string, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("exporter").
		Category(category).
		Context("image_id", imageID).
		Build()
}

func baseName(id string) string {
	id = strings.ReplaceAll(id, "\\", "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// pathSegment keeps a detector label usable as a single key segment
func pathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
}
