// Package httpclient talks to a running reid server, for CLI commands that must act on
// state held by that process.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

const (
	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout = 30 * time.Second

	defaultUserAgent             = "wildlife-reid"
	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second

	apiPrefix = "/api/v1"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the httpclient package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("httpclient")
	})
	return pkgLogger
}

// Config configures a Client
type Config struct {
	BaseURL        string // e.g. http://localhost:8080
	DefaultTimeout time.Duration
	UserAgent      string
}

// Client calls the /api/v1 routes of a reid server. Safe for concurrent use.
type Client struct {
	client         *http.Client
	base           *url.URL
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	afterResponse func(*http.Request, *http.Response, error)
}

// New creates a client for the server at cfg.BaseURL
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid server URL %q", cfg.BaseURL).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout}).DialContext,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
	return &Client{
		client:         &http.Client{Transport: transport},
		base:           base,
		defaultTimeout: cfg.DefaultTimeout,
		userAgent:      cfg.UserAgent,
	}, nil
}

// SetAfterResponseHook registers fn to observe every request
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close releases idle connections
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// URL resolves an API path and query against the base URL
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes the JSON envelope into out. Error envelopes become
// errors carrying the server's category.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	hook := c.afterResponse
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, err)
	}

	if err != nil {
		return errors.New(err).
			Component("httpclient").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(err).
			Component("httpclient").
			Category(errors.CategoryNetwork).
			Build()
	}

	GetLogger().Debug("api call",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// errorEnvelope mirrors the server's error body
type errorEnvelope struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func responseError(status int, data []byte) error {
	var env errorEnvelope
	if json.Unmarshal(data, &env) != nil || env.Error == "" {
		env.Error = strings.TrimSpace(string(data))
		if env.Error == "" {
			env.Error = http.StatusText(status)
		}
	}
	category := errors.ErrorCategory(env.Category)
	if category == "" {
		category = categoryForStatus(status)
	}
	return errors.Newf("server responded %d: %s", status, env.Error).
		Component("httpclient").
		Category(category).
		Context("status", status).
		Build()
}

func categoryForStatus(status int) errors.ErrorCategory {
	switch status {
	case http.StatusBadRequest:
		return errors.CategoryValidation
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusConflict:
		return errors.CategoryConflict
	default:
		return errors.CategoryNetwork
	}
}
