package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/collection"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

// stubPredictor stores one undetected annotation per call
type stubPredictor struct {
	annotations *annotation.Store
}

func (p *stubPredictor) Predict(ctx context.Context, collectionID string) ([]annotation.Annotation, error) {
	list := []annotation.Annotation{{
		ID:               annotation.NewID(collectionID, "inputs/x.jpg", ""),
		FileName:         "inputs/x.jpg",
		PredictedSpecies: annotation.Undetected,
		PredictedName:    annotation.Undetected,
	}}
	return list, p.annotations.Save(ctx, collectionID, list)
}

type stubPromoter struct{ n int }

func (p *stubPromoter) Promote(context.Context, string) (int, error) { return p.n, nil }

type stubCounter struct{}

func (stubCounter) Count(_ context.Context, img *imageio.InputImage) (*detector.CountResult, error) {
	return &detector.CountResult{Count: img.Width / 10, Annotated: img.Image}, nil
}
func (stubCounter) InputSize() int { return 32 }
func (stubCounter) Label() string  { return "elephant" }

type stubSampler struct{ seed uint64 }

func (s *stubSampler) Build(_ context.Context, collectionID string, seed uint64) (*retrain.Manifest, string, error) {
	s.seed = seed
	return &retrain.Manifest{CollectionID: collectionID, Plan: retrain.SamplePlan(2, 0)}, "outputs/" + collectionID + "/backbone/manifest.yaml", nil
}

type stubBackbone struct{ path string }

func (b *stubBackbone) Reload(path string) error {
	if strings.HasSuffix(path, ".broken") {
		return errors.Newf("cannot load %s", path).Category(errors.CategoryModelLoad).Build()
	}
	b.path = path
	return nil
}

func (b *stubBackbone) ModelPath() string { return b.path }

type fixture struct {
	server   *Server
	jobs     *retrain.JobStore
	sampler  *stubSampler
	backbone *stubBackbone
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kv, err := kvstore.Open(&conf.DatabaseSettings{Driver: conf.DriverSQLite, SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	annotations := annotation.NewStore(kv)
	jobs := retrain.NewJobStore(kv)
	cfg := DefaultConfig()
	cfg.StaleTimeout = time.Minute
	sampler := &stubSampler{}
	backbone := &stubBackbone{path: "models/backbone.tflite"}

	s := New(cfg, Deps{
		Collections: collection.NewService(kv, blobs, annotations, "inputs"),
		Annotations: annotations,
		Predictor:   &stubPredictor{annotations: annotations},
		Retrain:     retrain.NewOrchestrator(jobs, nil),
		Promoter:    &stubPromoter{n: 3},
		Counter:     stubCounter{},
		Sampler:     sampler,
		Backbone:    backbone,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Build:       buildinfo.NewContext("1.0.0", "2026-01-01", ""),
	})
	return &fixture{server: s, jobs: jobs, sampler: sampler, backbone: backbone}
}

func (f *fixture) do(t *testing.T, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	return f.serve(t, req)
}

func (f *fixture) serve(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (f *fixture) upload(t *testing.T, target string, files map[string][]byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	for name, data := range files {
		w, err := mpw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mpw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return f.serve(t, req)
}

func jpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.Gray{Y: 90})
		}
	}
	data, err := imageio.JPEGBytes(img, 90)
	require.NoError(t, err)
	return data
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestCollectionsLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "Serengeti North"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, StatusOK, body["status"])
	col := body["collection"].(map[string]any)
	assert.Equal(t, "serengeti-north", col["id"])

	code, body = f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "Serengeti North"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, StatusError, body["status"])
	assert.Equal(t, "conflict", body["category"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/collections/serengeti-north", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/api/v1/collections/serengeti-north", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestImagesAndPredictions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusOK, code)

	code, body := f.upload(t, "/api/v1/images?collection_id=demo", map[string][]byte{"a.jpg": jpeg(t, 20, 20)})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []any{"inputs/demo/a.jpg"}, body["images"])

	code, _ = f.upload(t, "/api/v1/images?collection_id=demo", map[string][]byte{"notes.txt": []byte("x")})
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("SessionID", "demo")
	code, body = f.serve(t, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["images"], 1)

	code, body = f.do(t, http.MethodGet, "/api/v1/predictions?collection_id=demo", nil)
	require.Equal(t, http.StatusOK, code)
	anns := body["annotations"].([]any)
	require.Len(t, anns, 1)
	first := anns[0].(map[string]any)
	assert.Equal(t, "undetected", first["predicted_species"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/predictions?collection_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/predictions", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/images?collection_id=demo&name=a.jpg", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAnnotationReview(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "demo"})
	_, body := f.do(t, http.MethodGet, "/api/v1/predictions?collection_id=demo", nil)
	id := body["annotations"].([]any)[0].(map[string]any)["id"].(string)

	name := "HY-12"
	code, body := f.do(t, http.MethodPut, "/api/v1/annotations?collection_id=demo", []annotation.Review{
		{ID: id, Accepted: true, PredictedName: &name},
	})
	require.Equal(t, http.StatusOK, code, body)

	code, body = f.do(t, http.MethodGet, "/api/v1/annotations?collection_id=demo", nil)
	require.Equal(t, http.StatusOK, code)
	got := body["annotations"].([]any)[0].(map[string]any)
	assert.Equal(t, true, got["accepted"])
	assert.Equal(t, "HY-12", got["predicted_name"])

	code, _ = f.do(t, http.MethodPut, "/api/v1/annotations?collection_id=demo", []annotation.Review{{ID: "nope"}})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPost, "/api/v1/annotations/promote?collection_id=demo", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 3, body["promoted"], 0)
}

func TestRetrainEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "demo"})

	code, body := f.do(t, http.MethodGet, "/api/v1/retrain_job?collection_id=demo", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "not_started", body["job"].(map[string]any)["status"])

	code, body = f.do(t, http.MethodPost, "/api/v1/retrain?collection_id=demo", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "created", body["job"].(map[string]any)["status"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/retrain?collection_id=demo", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/retrain_job?collection_id=demo", nil)
	assert.Equal(t, http.StatusConflict, code)

	// a started job with an old heartbeat is reported stale
	_, err := f.jobs.Update(t.Context(), "demo", func(j *retrain.Job) error {
		j.Status = retrain.StatusStarted
		j.HeartbeatAt = float64(time.Now().Add(-time.Hour).Unix())
		return nil
	})
	require.NoError(t, err)
	_, body = f.do(t, http.MethodGet, "/api/v1/retrain_job?collection_id=demo", nil)
	assert.Equal(t, true, body["job"].(map[string]any)["stale"])

	code, body = f.do(t, http.MethodGet, "/api/v1/abort_retrain_job?collection_id=demo", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "aborted", body["job"].(map[string]any)["status"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/abort_retrain_job?collection_id=demo", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/retrain_logs?collection_id=demo", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "logs")
}

func TestPredictCounts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, body := f.upload(t, "/api/v1/predict_counts", map[string][]byte{"herd.jpg": jpeg(t, 40, 20)})
	require.Equal(t, http.StatusOK, code, body)
	metrics := body["photo_metrics"].([]any)
	require.Len(t, metrics, 1)
	pred := metrics[0].(map[string]any)["predictions"].([]any)[0].(map[string]any)
	assert.Equal(t, "elephant", pred["animal"])
	assert.InDelta(t, 4, pred["count"], 0)
}

func TestBackboneEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/collections", map[string]string{"name": "demo"})

	code, body := f.do(t, http.MethodPost, "/api/v1/backbone/manifest?collection_id=demo&seed=42", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "outputs/demo/backbone/manifest.yaml", body["manifest"])
	assert.InDelta(t, 128, body["plan"].(map[string]any)["total"], 0)
	assert.Equal(t, uint64(42), f.sampler.seed)

	code, _ = f.do(t, http.MethodPost, "/api/v1/backbone/manifest?collection_id=demo&seed=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/api/v1/backbone/reload", map[string]string{"path": "models/v2.tflite"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "models/v2.tflite", body["model_path"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/backbone/reload", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/backbone/reload", map[string]string{"path": "models/v3.broken"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "models/v2.tflite", f.backbone.ModelPath())
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRequestIDAndHeaders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(echo.HeaderOrigin, "http://review.local")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "upload-7")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "upload-7", rec.Header().Get(echo.HeaderXRequestID))
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	build := func(cat errors.ErrorCategory) error {
		return errors.Newf("x").Component("api").Category(cat).Build()
	}
	assert.Equal(t, http.StatusBadRequest, StatusCode(build(errors.CategoryValidation)))
	assert.Equal(t, http.StatusNotFound, StatusCode(build(errors.CategoryNotFound)))
	assert.Equal(t, http.StatusConflict, StatusCode(build(errors.CategoryConflict)))
	assert.Equal(t, http.StatusConflict, StatusCode(build(errors.CategoryState)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(build(errors.CategoryStorage)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.NewStd("plain")))
}
