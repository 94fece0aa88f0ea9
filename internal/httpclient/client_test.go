package httpclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// newTestServer creates a test HTTP server and registers cleanup.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newTestClient creates a Client for server and registers cleanup.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: server.URL + "/"})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, code int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNew(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)
	assert.Equal(t, "http://localhost:8080/api/v1/retrain_job?collection_id=demo", c.URL("/retrain_job", collection("demo")))

	for _, bad := range []string{"", "localhost:8080", "://x"} {
		_, err := New(Config{BaseURL: bad})
		require.Error(t, err, bad)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestHealthSendsUserAgent(t *testing.T) {
	t.Parallel()

	var ua atomic.Value
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "healthy", "version": "1.2.3", "uptime_seconds": 3.5})
	})

	h, err := newTestClient(t, server).Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "1.2.3", h.Version)
	assert.InDelta(t, 3.5, h.UptimeSeconds, 1e-9)
	assert.Equal(t, defaultUserAgent, ua.Load())
}

func TestRetrainCalls(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo", r.URL.Query().Get("collection_id"))
		switch r.URL.Path {
		case "/api/v1/retrain":
			assert.Equal(t, http.MethodPost, r.Method)
			writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok", "job": map[string]any{
				"collection_id": "demo", "status": "created", "generation": 3,
			}})
		case "/api/v1/retrain_job":
			writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok", "job": map[string]any{
				"collection_id": "demo", "status": "started", "generation": 3, "stale": true,
			}})
		case "/api/v1/abort_retrain_job":
			writeJSON(t, w, http.StatusConflict, map[string]any{
				"status": "error", "error": "cannot abort a completed job", "code": 409, "category": "state",
			})
		case "/api/v1/retrain_logs":
			writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok", "logs": []map[string]any{
				{"collection_id": "demo", "created_at": 1, "message": "Loading training data for hyena."},
			}})
		default:
			http.NotFound(w, r)
		}
	})
	c := newTestClient(t, server)
	ctx := t.Context()

	job, err := c.RequestRetrain(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, retrain.StatusCreated, job.Status)
	assert.Equal(t, int64(3), job.Generation)

	job, err = c.RetrainJob(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, job.Stale)

	_, err = c.AbortRetrain(ctx, "demo")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Contains(t, err.Error(), "cannot abort a completed job")

	logs, err := c.RetrainLogs(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Loading training data for hyena.", logs[0].Message)
}

func TestReloadBackbonePostsPath(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"path":"models/v2.tflite"}`, string(body))
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok", "model_path": "models/v2.tflite"})
	})

	path, err := newTestClient(t, server).ReloadBackbone(t.Context(), "models/v2.tflite")
	require.NoError(t, err)
	assert.Equal(t, "models/v2.tflite", path)
}

func TestErrorsWithoutEnvelope(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := newTestClient(t, server).RetrainJob(t.Context(), "demo")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "Not Found")
}

func TestDefaultTimeoutAndHook(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	t.Cleanup(func() { close(release) })

	c, err := New(Config{BaseURL: server.URL, DefaultTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	var hookErr atomic.Value
	c.SetAfterResponseHook(func(_ *http.Request, _ *http.Response, err error) {
		if err != nil {
			hookErr.Store(err)
		}
	})

	_, err = c.Health(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.NotNil(t, hookErr.Load())
}
