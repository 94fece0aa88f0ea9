package retrain

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/classifier"
	"github.com/tphakala/wildlife-reid/internal/embedding"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/species"
)

// DefaultHeartbeatInterval is used when WorkerOptions leaves it unset
const DefaultHeartbeatInterval = 10 * time.Second

// AnnotationLister reads a collection's annotations
type AnnotationLister interface {
	List(ctx context.Context, collectionID string) ([]annotation.Annotation, error)
}

// BlobSource lists and reads training images
type BlobSource interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// Embedder turns images into unit embeddings
type Embedder interface {
	Extract(ctx context.Context, imgs []image.Image) ([][]float32, error)
}

// ModelSaver persists a fitted classifier
type ModelSaver interface {
	Save(m *classifier.Model) (classifier.ArtifactRef, error)
}

// Metrics receives retrain outcomes
type Metrics interface {
	RecordJob(status string, seconds float64)
	RecordFit(species string, seconds, accuracy float64, examples, individuals int)
	RecordPromoted(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordJob(string, float64)                     {}
func (nopMetrics) RecordFit(string, float64, float64, int, int) {}
func (nopMetrics) RecordPromoted(int)                            {}

// WorkerDeps are the collaborators of a Worker
type WorkerDeps struct {
	Jobs        *JobStore
	Annotations AnnotationLister
	Blobs       BlobSource
	Embedder    Embedder
	Trainer     *classifier.Trainer
	Models      ModelSaver
	Registry    *species.Registry
	Metrics     Metrics
}

// WorkerOptions tunes a Worker
type WorkerOptions struct {
	LockDir           string // per-collection lock files; empty disables cross-process locking
	HeartbeatInterval time.Duration
}

// Worker executes retrain jobs
type Worker struct {
	WorkerDeps
	opts WorkerOptions
}

// NewWorker creates a worker
func NewWorker(deps WorkerDeps, opts WorkerOptions) *Worker {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Worker{WorkerDeps: deps, opts: opts}
}

// example is one labelled training image
type example struct {
	key   string
	label string
}

// errAborted stops the species loop once an abort is observed
var errAborted = errors.NewStd("retrain aborted")

// Run executes the job of the given generation. The job must be Created; it ends Completed or Aborted.
func (w *Worker) Run(ctx context.Context, collectionID string, generation int64) error {
	log := GetLogger().With(
		logger.String("collection_id", collectionID),
		logger.Int64("generation", generation))

	unlock, err := w.lock(collectionID)
	if err != nil {
		return err
	}
	defer unlock()

	start := time.Now()
	job, err := w.Jobs.CompareAndSet(ctx, collectionID, generation, func(j *Job) error {
		if !CanTransition(j.Status, StatusStarted) {
			return transitionError(j.Status, StatusStarted, collectionID)
		}
		j.Status = StatusStarted
		j.HeartbeatAt = unixSeconds(w.Jobs.now())
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("retrain job started")

	if job.AbortRequested {
		return w.abort(ctx, collectionID, generation, start)
	}

	hb := newHeartbeat(w.Jobs, collectionID, generation, w.opts.HeartbeatInterval)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { hb.run(hbCtx) })
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	err = w.train(ctx, collectionID, generation, hb)
	switch {
	case errors.Is(err, errAborted):
		return w.abort(ctx, collectionID, generation, start)
	case errors.Is(err, ErrStaleGeneration):
		log.Warn("retrain job superseded, stopping")
		return nil
	case err != nil:
		w.Metrics.RecordJob(string(StatusAborted), time.Since(start).Seconds())
		return err
	}

	_, err = w.Jobs.CompareAndSet(ctx, collectionID, generation, func(j *Job) error {
		if j.Status == StatusAborted {
			return errAborted
		}
		if !CanTransition(j.Status, StatusCompleted) {
			return transitionError(j.Status, StatusCompleted, collectionID)
		}
		j.Status = StatusCompleted
		return nil
	})
	if errors.Is(err, errAborted) {
		return w.abort(ctx, collectionID, generation, start)
	}
	if err != nil {
		return err
	}

	w.Metrics.RecordJob(string(StatusCompleted), time.Since(start).Seconds())
	log.Info("retrain job completed", logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (w *Worker) lock(collectionID string) (func(), error) {
	if w.opts.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(w.opts.LockDir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("retrain").
			Category(errors.CategoryFileIO).
			Context("lock_dir", w.opts.LockDir).
			Build()
	}
	fl := flock.New(filepath.Join(w.opts.LockDir, collectionID+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.New(err).
			Component("retrain").
			Category(errors.CategoryFileIO).
			Context("lock", fl.Path()).
			Build()
	}
	if !ok {
		return nil, errors.New(ErrJobInFlight).
			Component("retrain").
			Category(errors.CategoryConflict).
			Collection(collectionID).
			Context("lock", fl.Path()).
			Build()
	}
	return func() { _ = fl.Unlock() }, nil
}

// abort settles a started job as Aborted and records the event
func (w *Worker) abort(ctx context.Context, collectionID string, generation int64, start time.Time) error {
	ctx = context.WithoutCancel(ctx)
	_, err := w.Jobs.CompareAndSet(ctx, collectionID, generation, func(j *Job) error {
		if j.Status == StatusAborted {
			return nil
		}
		if !CanTransition(j.Status, StatusAborted) {
			return transitionError(j.Status, StatusAborted, collectionID)
		}
		j.Status = StatusAborted
		return nil
	})
	if errors.Is(err, ErrStaleGeneration) {
		return nil
	}
	if err != nil {
		return err
	}
	w.event(ctx, collectionID, "Retraining aborted.")
	w.Metrics.RecordJob(string(StatusAborted), time.Since(start).Seconds())
	GetLogger().Info("retrain job aborted", logger.String("collection_id", collectionID))
	return nil
}

// checkpoint refreshes the heartbeat and reports an observed abort as errAborted
func (w *Worker) checkpoint(ctx context.Context, collectionID string, generation int64, hb *heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := w.Jobs.Get(ctx, collectionID)
	if err != nil {
		return err
	}
	if job.Generation != generation {
		return staleError(collectionID, generation, job.Generation)
	}
	if job.Status == StatusAborted {
		return errAborted
	}
	hb.checkpoint(ctx)
	return nil
}

func (w *Worker) train(ctx context.Context, collectionID string, generation int64, hb *heartbeat) error {
	all, err := w.Annotations.List(ctx, collectionID)
	if err != nil {
		return w.fail(ctx, collectionID, generation, "", err)
	}
	eligible := annotation.FilterEligible(all)
	if len(eligible) == 0 {
		w.event(ctx, collectionID, "Skipped retraining: no new accepted annotations.")
		return nil
	}

	groups, unknown := groupBySpecies(eligible)
	for _, name := range unknown {
		w.event(ctx, collectionID, fmt.Sprintf("Skipped annotations of unknown species %s.", name))
	}

	for _, sp := range species.All() {
		anns, ok := groups[sp]
		if !ok {
			continue
		}
		if err := w.trainSpecies(ctx, collectionID, generation, sp, anns, hb); err != nil {
			if errors.Is(err, errAborted) || errors.Is(err, ErrStaleGeneration) {
				return err
			}
			return w.fail(ctx, collectionID, generation, sp.ID(), err)
		}
	}
	return nil
}

func (w *Worker) trainSpecies(ctx context.Context, collectionID string, generation int64, sp species.Species, anns []annotation.Annotation, hb *heartbeat) error {
	if err := w.checkpoint(ctx, collectionID, generation, hb); err != nil {
		return err
	}
	w.event(ctx, collectionID, fmt.Sprintf("Loading training data for %s.", sp.ID()))

	examples, err := w.examples(ctx, sp, anns)
	if err != nil {
		return err
	}
	x, labels, err := w.embed(ctx, examples, hb)
	if err != nil {
		return err
	}
	individuals := len(classifier.Vocabulary(labels))
	w.event(ctx, collectionID, fmt.Sprintf("Training data loaded for %s: %d examples, %d individuals.",
		sp.ID(), len(x), individuals))

	if err := w.checkpoint(ctx, collectionID, generation, hb); err != nil {
		return err
	}
	w.event(ctx, collectionID, fmt.Sprintf("Retraining of %s classifier started.", sp.ID()))

	start := time.Now()
	model, err := w.Trainer.Train(sp, x, labels)
	if err != nil {
		return err
	}
	ref, err := w.Models.Save(model)
	if err != nil {
		return err
	}
	w.Metrics.RecordFit(sp.ID(), time.Since(start).Seconds(), model.Accuracy(), len(x), individuals)
	w.event(ctx, collectionID, fmt.Sprintf("Retraining of %s classifier completed. Model saved as %s.", sp.ID(), ref.Path))
	return nil
}

// examples joins the durable training images of sp with the collection's accepted crops
func (w *Worker) examples(ctx context.Context, sp species.Species, anns []annotation.Annotation) ([]example, error) {
	prefix := w.Registry.TrainingPrefix(sp)
	keys, err := w.Blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)

	out := make([]example, 0, len(keys)+len(anns))
	for _, key := range keys {
		if !strings.EqualFold(path.Ext(key), ".jpg") {
			continue
		}
		dir := path.Dir(strings.TrimPrefix(key, prefix))
		if dir == "." || dir == "/" {
			continue
		}
		out = append(out, example{key: key, label: path.Base(dir)})
	}
	for i := range anns {
		if anns[i].CroppedFileName == "" || anns[i].PredictedName == annotation.Undetected {
			continue
		}
		out = append(out, example{key: anns[i].CroppedFileName, label: anns[i].PredictedName})
	}
	return out, nil
}

// embed loads and embeds every example one image at a time
func (w *Worker) embed(ctx context.Context, examples []example, hb *heartbeat) ([][]float64, []string, error) {
	x := make([][]float64, 0, len(examples))
	labels := make([]string, 0, len(examples))
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		data, err := w.Blobs.Download(ctx, ex.key)
		if err != nil {
			return nil, nil, err
		}
		img, err := imageio.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, nil, errors.New(err).
				Component("retrain").
				Category(errors.CategoryImageDecode).
				Context("key", ex.key).
				Build()
		}
		vecs, err := w.Embedder.Extract(ctx, []image.Image{img})
		if err != nil {
			return nil, nil, err
		}
		x = append(x, embedding.ToFloat64(vecs)[0])
		labels = append(labels, ex.label)
		hb.checkpoint(ctx)
	}
	return x, labels, nil
}

// fail settles the job as Aborted with the error recorded. It returns the original error.
func (w *Worker) fail(ctx context.Context, collectionID string, generation int64, speciesID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	_, err := w.Jobs.CompareAndSet(ctx, collectionID, generation, func(j *Job) error {
		if j.Status != StatusStarted {
			return kvstore.ErrSkip
		}
		j.Status = StatusAborted
		j.Error = msg
		return nil
	})
	if err != nil && !errors.Is(err, ErrStaleGeneration) {
		GetLogger().Error("failed to record retrain failure",
			logger.String("collection_id", collectionID),
			logger.Error(err))
	}
	if speciesID != "" {
		w.event(ctx, collectionID, fmt.Sprintf("Retraining of %s failed: %s", speciesID, msg))
	} else {
		w.event(ctx, collectionID, "Retraining failed: "+msg)
	}
	GetLogger().Error("retrain job failed",
		logger.String("collection_id", collectionID),
		logger.String("species", speciesID),
		logger.Error(cause))
	return cause
}

func (w *Worker) event(ctx context.Context, collectionID, message string) {
	if err := w.Jobs.Log(ctx, collectionID, message); err != nil {
		GetLogger().Warn("failed to append retrain event",
			logger.String("collection_id", collectionID),
			logger.String("message", message),
			logger.Error(err))
	}
}

// groupBySpecies splits annotations by predicted species and returns unknown species names sorted
func groupBySpecies(anns []annotation.Annotation) (map[species.Species][]annotation.Annotation, []string) {
	groups := make(map[species.Species][]annotation.Annotation)
	seen := make(map[string]bool)
	var unknown []string
	for i := range anns {
		sp, ok := species.Parse(anns[i].PredictedSpecies)
		if !ok {
			if !seen[anns[i].PredictedSpecies] {
				seen[anns[i].PredictedSpecies] = true
				unknown = append(unknown, anns[i].PredictedSpecies)
			}
			continue
		}
		groups[sp] = append(groups[sp], anns[i])
	}
	slices.Sort(unknown)
	return groups, unknown
}
