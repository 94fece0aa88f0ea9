package blobstore

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

const (
	PermDir  = 0o700 // rwx------ for directories
	PermFile = 0o600 // rw------- for files

	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	DefaultMaxConns     = 5
	DefaultTimeout      = 30 * time.Second
	DefaultFTPPort      = 21
	DefaultSSHPort      = 22
)

// transientErrorPatterns contains substrings that indicate a retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
}

// IsTransientError reports whether err is likely temporary and worth retrying
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	Backend    string
}

// DefaultRetryConfig returns a RetryConfig with the package defaults
func DefaultRetryConfig(backend string) RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultRetryBackoff,
		Backend:    backend,
	}
}

// WithRetry runs op until it succeeds, fails permanently or MaxRetries attempts are used.
// Transient failures back off linearly: 1x, 2x, 3x the configured backoff.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := range cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("blobstore").
				Category(errors.CategoryCancellation).
				Context("backend", cfg.Backend).
				Build()
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err

		if attempt+1 == cfg.MaxRetries {
			break
		}
		GetLogger().Debug("retrying blob operation",
			logger.String("backend", cfg.Backend),
			logger.Int("attempt", attempt+1),
			logger.Int("max_retries", cfg.MaxRetries),
			logger.Error(err))

		select {
		case <-ctx.Done():
		case <-time.After(cfg.Backoff * time.Duration(attempt+1)):
		}
	}

	return errors.New(lastErr).
		Component("blobstore").
		Category(errors.CategoryRetry).
		Context("backend", cfg.Backend).
		Context("attempts", cfg.MaxRetries).
		Build()
}
