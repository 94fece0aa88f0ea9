// Package pipeline runs detection, export, embedding and classification over a collection's images
// and records one annotation per detected animal.
package pipeline

import (
	"context"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/classifier"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/embedding"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/exporter"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
	"github.com/tphakala/wildlife-reid/internal/species"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the pipeline package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("pipeline")
	})
	return pkgLogger
}

// ImageLister lists the input image keys of a collection in a stable order
type ImageLister interface {
	Images(ctx context.Context, collectionID string) ([]string, error)
}

// BlobReader reads input images
type BlobReader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Detector finds candidates in one image
type Detector interface {
	Detect(ctx context.Context, img *imageio.InputImage) ([]detector.Candidate, error)
	InputSize() int
}

// Exporter stores the artifacts of one candidate
type Exporter interface {
	Export(ctx context.Context, collectionID string, ordinal int, img *imageio.InputImage, cand detector.Candidate) (exporter.Artifacts, error)
}

// Embedder turns crops into feature vectors, row i for image i
type Embedder interface {
	Extract(ctx context.Context, imgs []image.Image) ([][]float32, error)
}

// Classifiers resolves the current classifier of a species
type Classifiers interface {
	ClassifierFor(sp species.Species) (classifier.Classifier, *classifier.ArtifactRef, error)
}

// AnnotationWriter replaces a collection's annotations
type AnnotationWriter interface {
	Save(ctx context.Context, collectionID string, list []annotation.Annotation) error
}

// Metrics is the pipeline's view of its Prometheus collectors
type Metrics interface {
	metrics.Recorder
	RecordDetection(species string)
	RecordImage()
}

type nopMetrics struct{ metrics.NopRecorder }

func (nopMetrics) RecordDetection(string) {}
func (nopMetrics) RecordImage()           {}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Images      ImageLister
	Blobs       BlobReader
	Detector    Detector
	Exporter    Exporter
	Embedder    Embedder
	Classifiers Classifiers
	Annotations AnnotationWriter
	Metrics     Metrics
}

// Pipeline produces annotations for collections
type Pipeline struct {
	deps Deps
}

// New creates a pipeline. A nil Metrics disables recording.
func New(deps Deps) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Pipeline{deps: deps}
}

// crop is an exported detection waiting for classification
type crop struct {
	index int // position in the annotation list
	image image.Image
}

// Predict annotates every input image of the collection, replaces the stored annotations
// and returns them sorted by cropped file name.
func (p *Pipeline) Predict(ctx context.Context, collectionID string) ([]annotation.Annotation, error) {
	start := time.Now()
	list, err := p.predict(ctx, collectionID)
	p.deps.Metrics.RecordDuration(metrics.OpPredict, time.Since(start).Seconds())
	if err != nil {
		p.deps.Metrics.RecordOperation(metrics.OpPredict, metrics.StatusError)
		p.deps.Metrics.RecordError(metrics.OpPredict, string(errors.CategoryOf(err)))
		return nil, err
	}
	p.deps.Metrics.RecordOperation(metrics.OpPredict, metrics.StatusSuccess)
	GetLogger().Info("prediction completed",
		logger.String("collection_id", collectionID),
		logger.Int("annotations", len(list)),
		logger.Duration("elapsed", time.Since(start)))
	return list, nil
}

func (p *Pipeline) predict(ctx context.Context, collectionID string) ([]annotation.Annotation, error) {
	keys, err := p.deps.Images.Images(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	keys = slices.Clone(keys)
	slices.Sort(keys)

	var list []annotation.Annotation
	groups := make(map[string][]crop)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Component("pipeline").
				Category(errors.CategoryCancellation).
				Build()
		}
		img, err := p.load(ctx, key)
		if err != nil {
			return nil, err
		}
		p.deps.Metrics.RecordImage()

		detectStart := time.Now()
		candidates, err := p.deps.Detector.Detect(ctx, img)
		p.deps.Metrics.RecordDuration(metrics.OpDetect, time.Since(detectStart).Seconds())
		if err != nil {
			p.deps.Metrics.RecordOperation(metrics.OpDetect, metrics.StatusError)
			return nil, err
		}
		p.deps.Metrics.RecordOperation(metrics.OpDetect, metrics.StatusSuccess)

		for ordinal, cand := range candidates {
			if cand.IsUndetected() {
				list = append(list, undetected(collectionID, key))
				continue
			}
			arts, err := p.deps.Exporter.Export(ctx, collectionID, ordinal, img, cand)
			if err != nil {
				return nil, err
			}
			p.deps.Metrics.RecordDetection(cand.Label)

			groups[cand.Label] = append(groups[cand.Label], crop{
				index: len(list),
				image: imageio.Crop(img.Image, cand.Box.Rect()),
			})
			list = append(list, annotation.Annotation{
				ID:                annotation.NewID(collectionID, key, arts.Cropped),
				FileName:          key,
				AnnotatedFileName: arts.Annotated,
				CroppedFileName:   arts.Cropped,
				BBox:              *cand.Box,
				BBoxConfidence:    cand.Confidence,
				PredictedSpecies:  cand.Label,
				PredictedName:     annotation.Undetected,
			})
		}
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		if err := p.classify(ctx, label, groups[label], list); err != nil {
			return nil, err
		}
	}

	annotation.Sort(list)
	if list == nil {
		list = []annotation.Annotation{}
	}
	if err := p.deps.Annotations.Save(ctx, collectionID, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Pipeline) load(ctx context.Context, key string) (*imageio.InputImage, error) {
	data, err := p.deps.Blobs.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	img, err := imageio.Load(key, data, p.deps.Detector.InputSize())
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("image_id", key).
			Build()
	}
	return img, nil
}

// classify names every crop of one detector label, writing into list
func (p *Pipeline) classify(ctx context.Context, label string, crops []crop, list []annotation.Annotation) error {
	sp, ok := species.Parse(label)
	if !ok {
		GetLogger().Debug("no classifier for detector label",
			logger.String("label", label),
			logger.Int("crops", len(crops)))
		return nil
	}

	clf, ref, err := p.deps.Classifiers.ClassifierFor(sp)
	if err != nil {
		return err
	}
	if ref == nil {
		GetLogger().Info("species has no trained classifier",
			logger.String("species", sp.ID()))
		return nil
	}

	start := time.Now()
	imgs := make([]image.Image, len(crops))
	for i, c := range crops {
		imgs[i] = c.image
	}
	vectors, err := p.deps.Embedder.Extract(ctx, imgs)
	if err != nil {
		return err
	}
	names, err := clf.PredictNames(embedding.ToFloat64(vectors))
	p.deps.Metrics.RecordDuration(metrics.OpClassify, time.Since(start).Seconds())
	if err != nil {
		p.deps.Metrics.RecordOperation(metrics.OpClassify, metrics.StatusError)
		return err
	}
	p.deps.Metrics.RecordOperation(metrics.OpClassify, metrics.StatusSuccess)

	for i, c := range crops {
		list[c.index].PredictedSpecies = sp.ID()
		if names[i] != "" {
			list[c.index].PredictedName = names[i]
		}
	}
	GetLogger().Debug("crops classified",
		logger.String("species", sp.ID()),
		logger.String("model_version", ref.Version),
		logger.Int("crops", len(crops)))
	return nil
}

// undetected is the annotation recorded for an image without detections
func undetected(collectionID, key string) annotation.Annotation {
	return annotation.Annotation{
		ID:               annotation.NewID(collectionID, key, ""),
		FileName:         key,
		PredictedSpecies: annotation.Undetected,
		PredictedName:    annotation.Undetected,
	}
}
