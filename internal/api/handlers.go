package api

import (
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	mw "github.com/tphakala/wildlife-reid/internal/api/middleware"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// collectionID reads ?collection_id=, falling back to the SessionID header, and checks it exists
func (s *Server) collectionID(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.QueryParam("collection_id"))
	if id == "" {
		id = strings.TrimSpace(c.Request().Header.Get(mw.SessionIDHeader))
	}
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "query parameter `collection_id` or header `SessionID` required")
	}
	if _, err := s.deps.Collections.Get(c.Request().Context(), id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) listCollections(c echo.Context) error {
	list, err := s.deps.Collections.List(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"collections": list})
}

func (s *Server) listSessions(c echo.Context) error {
	list, err := s.deps.Collections.List(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"sessions": list})
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

func (s *Server) createCollection(c echo.Context) error {
	var req createCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field `name` required")
	}
	col, err := s.deps.Collections.Create(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"collection": col})
}

func (s *Server) deleteCollection(c echo.Context) error {
	if err := s.deps.Collections.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return ok(c, nil)
}

func (s *Server) listImages(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	keys, err := s.deps.Collections.Images(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"images": keys})
}

func (s *Server) uploadImages(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form with image files required")
	}

	var keys []string
	for _, field := range slices.Sorted(maps.Keys(form.File)) {
		for _, fh := range form.File[field] {
			f, err := fh.Open()
			if err != nil {
				return err
			}
			key, err := s.deps.Collections.AddImage(c.Request().Context(), id, fh.Filename, f)
			_ = f.Close()
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no image files in request")
	}
	GetLogger().Info("images uploaded",
		logger.String("collection_id", id),
		logger.Int("count", len(keys)))
	return ok(c, map[string]any{"images": keys})
}

func (s *Server) deleteImage(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	name := c.QueryParam("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter `name` required")
	}
	if err := s.deps.Collections.RemoveImage(c.Request().Context(), id, name); err != nil {
		return err
	}
	return ok(c, nil)
}

func (s *Server) predict(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	anns, err := s.deps.Predictor.Predict(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"annotations": anns})
}

func (s *Server) listAnnotations(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	anns, err := s.deps.Annotations.List(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"annotations": anns})
}

func (s *Server) reviewAnnotations(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	var reviews []annotation.Review
	if err := c.Bind(&reviews); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON array of annotation reviews")
	}
	for _, r := range reviews {
		if r.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every review needs an `id`")
		}
	}
	merged, err := s.deps.Annotations.Merge(c.Request().Context(), id, reviews)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"annotations": merged})
}

func (s *Server) promote(c echo.Context) error {
	if s.deps.Promoter == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "promotion is not configured")
	}
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	n, err := s.deps.Promoter.Promote(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"promoted": n})
}

// jobResponse adds liveness to the stored job
type jobResponse struct {
	retrain.Job
	Stale bool `json:"stale"`
}

func (s *Server) jobView(job retrain.Job) jobResponse {
	return jobResponse{Job: job, Stale: job.Stale(s.now(), s.config.StaleTimeout)}
}

func (s *Server) requestRetrain(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	job, err := s.deps.Retrain.Request(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"job": s.jobView(job)})
}

func (s *Server) retrainJob(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	job, err := s.deps.Retrain.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"job": s.jobView(job)})
}

func (s *Server) clearRetrainJob(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Retrain.Clear(c.Request().Context(), id); err != nil {
		return err
	}
	return ok(c, nil)
}

func (s *Server) abortRetrain(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	job, err := s.deps.Retrain.Abort(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"job": s.jobView(job)})
}

func (s *Server) retrainLogs(c echo.Context) error {
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	events, err := s.deps.Retrain.Events(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"logs": events})
}

// speciesCount is one row of the counter response
type speciesCount struct {
	Animal string `json:"animal"`
	Count  int    `json:"count"`
}

// photoMetrics is the counter result of one uploaded photo
type photoMetrics struct {
	File        string         `json:"file"`
	Predictions []speciesCount `json:"predictions"`
}

func (s *Server) predictCounts(c echo.Context) error {
	if s.deps.Counter == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "the species counter is not configured")
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form with image files required")
	}

	var out []photoMetrics
	for _, field := range slices.Sorted(maps.Keys(form.File)) {
		for _, fh := range form.File[field] {
			f, err := fh.Open()
			if err != nil {
				return err
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			img, err := imageio.Load(fh.Filename, data, s.deps.Counter.InputSize())
			if err != nil {
				return err
			}
			res, err := s.deps.Counter.Count(c.Request().Context(), img)
			if err != nil {
				return err
			}
			out = append(out, photoMetrics{
				File:        fh.Filename,
				Predictions: []speciesCount{{Animal: s.deps.Counter.Label(), Count: res.Count}},
			})
		}
	}
	if len(out) == 0 {
		return errors.Newf("no image files in request").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return ok(c, map[string]any{"photo_metrics": out})
}

func (s *Server) backboneManifest(c echo.Context) error {
	if s.deps.Sampler == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "backbone sampling is not configured")
	}
	id, err := s.collectionID(c)
	if err != nil {
		return err
	}
	var seed uint64
	if raw := c.QueryParam("seed"); raw != "" {
		if seed, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "seed must be an unsigned integer")
		}
	}
	manifest, key, err := s.deps.Sampler.Build(c.Request().Context(), id, seed)
	if err != nil {
		return err
	}
	return ok(c, map[string]any{"manifest": key, "plan": manifest.Plan})
}

// reloadRequest names the backbone model file to load
type reloadRequest struct {
	Path string `json:"path"`
}

func (s *Server) reloadBackbone(c echo.Context) error {
	if s.deps.Backbone == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "the embedding backbone is not configured")
	}
	var req reloadRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body {\"path\": ...} required")
	}
	if err := s.deps.Backbone.Reload(req.Path); err != nil {
		return err
	}
	return ok(c, map[string]any{"model_path": s.deps.Backbone.ModelPath()})
}
