package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	mw "github.com/tphakala/wildlife-reid/internal/api/middleware"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/collection"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// Predictor runs the prediction pipeline over one collection
type Predictor interface {
	Predict(ctx context.Context, collectionID string) ([]annotation.Annotation, error)
}

// Promoter copies reviewed crops into the training sets
type Promoter interface {
	Promote(ctx context.Context, collectionID string) (int, error)
}

// Counter counts one species in a single photo
type Counter interface {
	Count(ctx context.Context, img *imageio.InputImage) (*detector.CountResult, error)
	InputSize() int
	Label() string
}

// Sampler writes the backbone refresh manifest of a collection
type Sampler interface {
	Build(ctx context.Context, collectionID string, seed uint64) (*retrain.Manifest, string, error)
}

// Backbone swaps the feature extractor's model file
type Backbone interface {
	Reload(path string) error
	ModelPath() string
}

// Deps are the services behind the routes. Promoter, Counter, Sampler, Backbone and Metrics may be nil.
type Deps struct {
	Collections *collection.Service
	Annotations *annotation.Store
	Predictor   Predictor
	Retrain     *retrain.Orchestrator
	Promoter    Promoter
	Counter     Counter
	Sampler     Sampler
	Backbone    Backbone
	Metrics     http.Handler
	Build       *buildinfo.Context
}

// Server is the HTTP server
type Server struct {
	echo      *echo.Echo
	config    *Config
	deps      Deps
	startTime time.Time
	now       func() time.Time
}

// New creates a server with every route registered
func New(config *Config, deps Deps) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:    config,
		deps:      deps,
		startTime: time.Now(),
		now:       time.Now,
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = errorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLogger(GetLogger(), func(c echo.Context) bool {
		return c.Path() == "/api/v1/health" || c.Path() == "/api/v1/metrics"
	}))
	s.echo.Use(mw.NewCORS(s.config.AllowedOrigins))
	s.echo.Use(mw.NewHardening(s.config.BodyLimit)...)
}

func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		v1.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	v1.GET("/collections", s.listCollections)
	v1.POST("/collections", s.createCollection)
	v1.DELETE("/collections/:id", s.deleteCollection)
	// first version clients
	v1.GET("/sessions", s.listSessions)
	v1.PUT("/sessions", s.createCollection)

	v1.GET("/images", s.listImages)
	v1.POST("/images", s.uploadImages)
	v1.DELETE("/images", s.deleteImage)

	v1.GET("/predictions", s.predict)
	v1.GET("/annotations", s.listAnnotations)
	v1.PUT("/annotations", s.reviewAnnotations)
	v1.POST("/annotations/promote", s.promote)

	v1.POST("/retrain", s.requestRetrain)
	v1.GET("/retrain", s.requestRetrain)
	v1.GET("/retrain_job", s.retrainJob)
	v1.DELETE("/retrain_job", s.clearRetrainJob)
	v1.POST("/abort_retrain_job", s.abortRetrain)
	v1.GET("/abort_retrain_job", s.abortRetrain)
	v1.GET("/retrain_logs", s.retrainLogs)

	v1.POST("/backbone/manifest", s.backboneManifest)
	v1.POST("/backbone/reload", s.reloadBackbone)

	v1.POST("/predict_counts", s.predictCounts)
}

// Handler exposes the router, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("HTTP server starting", logger.String("listen", s.config.Listen))
		errCh <- s.echo.Start(s.config.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	<-errCh
	GetLogger().Info("HTTP server stopped")
	return nil
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.deps.Build.GetVersion(),
		"build_date":     s.deps.Build.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}
