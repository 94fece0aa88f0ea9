// Package app builds the service graph shared by the CLI commands and the HTTP server.
package app

import (
	"sync"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/api"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/classifier"
	"github.com/tphakala/wildlife-reid/internal/collection"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/embedding"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/exporter"
	"github.com/tphakala/wildlife-reid/internal/inference"
	"github.com/tphakala/wildlife-reid/internal/jobqueue"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability"
	"github.com/tphakala/wildlife-reid/internal/pipeline"
	"github.com/tphakala/wildlife-reid/internal/retrain"
	"github.com/tphakala/wildlife-reid/internal/species"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the app package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("app")
	})
	return pkgLogger
}

// App owns the storage backed services. Models are opened on first use so that commands
// which only touch storage never load an interpreter.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Metrics  *observability.Metrics

	KV          *kvstore.GormStore
	Blobs       blobstore.Store
	Registry    *species.Registry
	Models      *classifier.Store
	Trainer     *classifier.Trainer
	Collections *collection.Service
	Annotations *annotation.Store
	Jobs        *retrain.JobStore
	Promoter    *retrain.Promoter
	Sampler     *retrain.BackboneSampler

	backend   blobstore.Store
	mu        sync.Mutex
	extractor *embedding.Extractor
	yolo      *detector.YOLOModel
	detector  *detector.Detector
}

// New opens the key-value store and blob store and wires every service that needs no model
func New(settings *conf.Settings, build *buildinfo.Context) (*App, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	kv, err := kvstore.Open(&settings.Database, kvstore.WithRecorder(m.Storage))
	if err != nil {
		return nil, err
	}

	store, err := blobstore.New(&settings.Storage)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	blobs := blobstore.WithMetrics(store, m.Storage)

	registry, err := species.NewRegistry(settings.Classifier.ModelsDir, settings.Classifier.TrainingPrefixes)
	if err != nil {
		_ = kv.Close()
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	annotations := annotation.NewStore(kv)
	a := &App{
		Settings:    settings,
		Build:       build,
		Metrics:     m,
		KV:          kv,
		Blobs:       blobs,
		backend:     store,
		Registry:    registry,
		Models:      classifier.NewStore(registry, settings.Classifier.CacheTTL, m.Pipeline),
		Trainer:     classifier.NewTrainer(settings.Classifier.Folds, settings.Classifier.Seed),
		Collections: collection.NewService(kv, blobs, annotations, settings.Storage.InputsPrefix),
		Annotations: annotations,
		Jobs:        retrain.NewJobStore(kv),
		Promoter:    retrain.NewPromoter(annotations, blobs, registry, m.Retrain, m.Retrain),
		Sampler: retrain.NewBackboneSampler(annotations, blobs,
			settings.Embedding.BackbonePrefix, settings.Storage.OutputsPrefix, settings.Embedding.SampleBatch),
	}

	GetLogger().Info("services ready",
		logger.String("database", settings.Database.Driver),
		logger.String("storage", blobs.Name()),
		logger.String("models_dir", registry.ModelsDir()))
	return a, nil
}

// Extractor opens the embedding backbone on first use
func (a *App) Extractor() (*embedding.Extractor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.extractor != nil {
		return a.extractor, nil
	}

	s := a.Settings.Embedding
	load := embedding.TFLiteLoader(inference.Options{
		Name:       "embedding",
		Threads:    s.Threads,
		UseXNNPACK: s.UseXNNPACK,
	})
	backbone, err := load(s.ModelPath)
	if err != nil {
		a.Metrics.Pipeline.RecordModelLoad("embedding", err)
		return nil, err
	}
	a.Metrics.Pipeline.RecordModelLoad("embedding", nil)
	a.extractor = embedding.NewExtractor(backbone, s.ModelPath, s.InputSize,
		embedding.WithLoader(load),
		embedding.WithRecorder(a.Metrics.Pipeline))
	return a.extractor, nil
}

// Detector opens the bounding box model on first use
func (a *App) Detector() (*detector.Detector, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detector != nil {
		return a.detector, nil
	}

	s := a.Settings.Detector
	labels, err := detector.LoadLabels(s.LabelPath)
	if err != nil {
		return nil, err
	}
	interp, err := inference.Load(s.ModelPath, inference.Options{
		Name:       "detector",
		Threads:    s.Threads,
		UseXNNPACK: s.UseXNNPACK,
	})
	if err != nil {
		a.Metrics.Pipeline.RecordModelLoad("detector", err)
		return nil, err
	}
	model, err := detector.NewYOLOModel(interp, labels, a.nms())
	if err != nil {
		interp.Close()
		a.Metrics.Pipeline.RecordModelLoad("detector", err)
		return nil, err
	}
	a.Metrics.Pipeline.RecordModelLoad("detector", nil)

	var post []detector.Postprocessor
	if s.MinScore > 0 {
		post = append(post, detector.NewScoreFilter(s.MinScore))
	}
	a.yolo = model
	a.detector = detector.New(model, post...)
	return a.detector, nil
}

func (a *App) nms() detector.NMSConfig {
	s := a.Settings.Detector
	nms := detector.DefaultNMS
	if s.ScoreThreshold > 0 {
		nms.ScoreThreshold = s.ScoreThreshold
	}
	if s.IoUThreshold > 0 {
		nms.IoUThreshold = s.IoUThreshold
	}
	if s.MaxDetections > 0 {
		nms.MaxDetections = s.MaxDetections
	}
	return nms
}

// Counter builds the single species counter on the shared detector
func (a *App) Counter() (*detector.Counter, error) {
	det, err := a.Detector()
	if err != nil {
		return nil, err
	}
	c := a.Settings.Detector.Counter
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = detector.DefaultCountThreshold
	}
	return detector.NewCounter(det, threshold, c.Label), nil
}

// Pipeline builds the prediction pipeline, opening both models
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	det, err := a.Detector()
	if err != nil {
		return nil, err
	}
	ext, err := a.Extractor()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Images:      a.Collections,
		Blobs:       a.Blobs,
		Detector:    det,
		Exporter:    exporter.New(a.Blobs, a.Settings.Storage.OutputsPrefix, a.Settings.Storage.JPEGQuality, a.Metrics.Pipeline),
		Embedder:    ext,
		Classifiers: a.Models,
		Annotations: a.Annotations,
		Metrics:     a.Metrics.Pipeline,
	}), nil
}

// Worker builds the retrain worker, opening the backbone
func (a *App) Worker() (*retrain.Worker, error) {
	ext, err := a.Extractor()
	if err != nil {
		return nil, err
	}
	return retrain.NewWorker(retrain.WorkerDeps{
		Jobs:        a.Jobs,
		Annotations: a.Annotations,
		Blobs:       a.Blobs,
		Embedder:    ext,
		Trainer:     a.Trainer,
		Models:      a.Models,
		Registry:    a.Registry,
		Metrics:     a.Metrics.Retrain,
	}, retrain.WorkerOptions{
		LockDir:           a.Settings.Retrain.LockDir,
		HeartbeatInterval: a.Settings.Retrain.HeartbeatInterval,
	}), nil
}

// Queue creates the retrain job queue sized from settings
func (a *App) Queue() *jobqueue.JobQueue {
	s := a.Settings.Retrain
	return jobqueue.New(jobqueue.Options{
		MaxJobs:    s.QueueSize,
		Workers:    s.Workers,
		JobTimeout: s.JobTimeout,
	})
}

// Orchestrator creates the job state machine. A nil dispatcher leaves Created jobs for a poller.
func (a *App) Orchestrator(dispatcher retrain.Dispatcher) *retrain.Orchestrator {
	return retrain.NewOrchestrator(a.Jobs, dispatcher)
}

// Server builds the HTTP API over every service. The counter is optional and is skipped
// when the detector has no counter label configured.
func (a *App) Server(orch *retrain.Orchestrator) (*api.Server, error) {
	pipe, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	ext, err := a.Extractor()
	if err != nil {
		return nil, err
	}

	deps := api.Deps{
		Collections: a.Collections,
		Annotations: a.Annotations,
		Predictor:   pipe,
		Retrain:     orch,
		Promoter:    a.Promoter,
		Sampler:     a.Sampler,
		Backbone:    ext,
		Build:       a.Build,
	}
	if a.Settings.Detector.Counter.Label != "" {
		counter, err := a.Counter()
		if err != nil {
			return nil, err
		}
		deps.Counter = counter
	}
	if a.Settings.Telemetry.Prometheus.Enabled {
		deps.Metrics = a.Metrics.Handler()
	}
	return api.New(api.ConfigFromSettings(a.Settings), deps), nil
}

// Close releases models and storage connections
func (a *App) Close() error {
	a.mu.Lock()
	if a.extractor != nil {
		a.extractor.Close()
		a.extractor = nil
	}
	if a.yolo != nil {
		a.yolo.Close()
		a.yolo, a.detector = nil, nil
	}
	a.mu.Unlock()

	var errs []error
	if c, ok := a.backend.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.KV.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
