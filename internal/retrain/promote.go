package retrain

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
	"github.com/tphakala/wildlife-reid/internal/species"
)

// Promoter copies reviewed crops into the durable per-species training sets
type Promoter struct {
	annotations AnnotationLister
	blobs       blobstore.Store
	registry    *species.Registry
	metrics     Metrics
	recorder    metrics.Recorder
}

// NewPromoter creates a promoter. m and rec may be nil.
func NewPromoter(annotations AnnotationLister, blobs blobstore.Store, registry *species.Registry, m Metrics, rec metrics.Recorder) *Promoter {
	if m == nil {
		m = nopMetrics{}
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Promoter{annotations: annotations, blobs: blobs, registry: registry, metrics: m, recorder: rec}
}

// PromotedKey returns {training-prefix}/{individual}/{annotation-id}.jpg
func (p *Promoter) PromotedKey(sp species.Species, a *annotation.Annotation) string {
	return blobstore.Join(p.registry.TrainingPrefix(sp), pathSafe(a.PredictedName), a.ID+".jpg")
}

// Promote copies every accepted, non-ignored crop of a known species and returns how many were copied
func (p *Promoter) Promote(ctx context.Context, collectionID string) (int, error) {
	start := time.Now()
	n, err := p.promote(ctx, collectionID)
	p.recorder.RecordDuration(metrics.OpPromote, time.Since(start).Seconds())
	if err != nil {
		p.recorder.RecordOperation(metrics.OpPromote, metrics.StatusError)
		p.recorder.RecordError(metrics.OpPromote, string(errors.CategoryOf(err)))
		return n, err
	}
	p.recorder.RecordOperation(metrics.OpPromote, metrics.StatusSuccess)
	p.metrics.RecordPromoted(n)
	return n, nil
}

func (p *Promoter) promote(ctx context.Context, collectionID string) (int, error) {
	all, err := p.annotations.List(ctx, collectionID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range annotation.FilterEligible(all) {
		sp, ok := species.Parse(a.PredictedSpecies)
		if !ok {
			GetLogger().Info("skipping annotation of unknown species",
				logger.String("collection_id", collectionID),
				logger.String("annotation_id", a.ID),
				logger.String("species", a.PredictedSpecies))
			continue
		}
		if a.PredictedName == "" || a.PredictedName == annotation.Undetected || a.CroppedFileName == "" {
			continue
		}
		data, err := p.blobs.Download(ctx, a.CroppedFileName)
		if err != nil {
			return n, err
		}
		if err := p.blobs.Put(ctx, p.PromotedKey(sp, &a), bytes.NewReader(data)); err != nil {
			return n, err
		}
		n++
	}

	GetLogger().Info("annotations promoted",
		logger.String("collection_id", collectionID),
		logger.Int("count", n))
	return n, nil
}

// pathSafe turns an individual name into a single key segment
func pathSafe(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}
