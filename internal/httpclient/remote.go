package httpclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// Health is the server's health report
type Health struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	BuildDate     string  `json:"build_date"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// JobView is a retrain job with the server's liveness verdict
type JobView struct {
	retrain.Job
	Stale bool `json:"stale"`
}

func collection(id string) url.Values {
	return url.Values{"collection_id": {id}}
}

// Health returns the server health report
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

// ReloadBackbone makes the server load a new embedding backbone and returns its model path
func (c *Client) ReloadBackbone(ctx context.Context, path string) (string, error) {
	var out struct {
		ModelPath string `json:"model_path"`
	}
	err := c.do(ctx, http.MethodPost, "/backbone/reload", nil, map[string]string{"path": path}, &out)
	return out.ModelPath, err
}

// RequestRetrain schedules retraining on the server's queue
func (c *Client) RequestRetrain(ctx context.Context, collectionID string) (JobView, error) {
	return c.job(ctx, http.MethodPost, "/retrain", collectionID)
}

// RetrainJob returns the collection's job
func (c *Client) RetrainJob(ctx context.Context, collectionID string) (JobView, error) {
	return c.job(ctx, http.MethodGet, "/retrain_job", collectionID)
}

// AbortRetrain aborts the collection's job
func (c *Client) AbortRetrain(ctx context.Context, collectionID string) (JobView, error) {
	return c.job(ctx, http.MethodPost, "/abort_retrain_job", collectionID)
}

func (c *Client) job(ctx context.Context, method, path, collectionID string) (JobView, error) {
	var out struct {
		Job JobView `json:"job"`
	}
	err := c.do(ctx, method, path, collection(collectionID), nil, &out)
	return out.Job, err
}

// RetrainLogs returns the collection's retrain events, oldest first
func (c *Client) RetrainLogs(ctx context.Context, collectionID string) ([]retrain.Event, error) {
	var out struct {
		Logs []retrain.Event `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, "/retrain_logs", collection(collectionID), nil, &out)
	return out.Logs, err
}
