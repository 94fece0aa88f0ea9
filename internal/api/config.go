// Package api serves the HTTP interface of the re-identification service.
package api

import (
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the api package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("api")
	})
	return pkgLogger
}

// Default constants for the HTTP server
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute // prediction runs inside the request
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "64M"
)

// Config holds the HTTP server configuration
type Config struct {
	Listen          string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
	StaleTimeout    time.Duration // heartbeat age reported as a stale retrain job
}

// DefaultConfig returns a Config with defaults
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
	}
}

// ConfigFromSettings builds a Config from application settings
func ConfigFromSettings(settings *conf.Settings) *Config {
	c := DefaultConfig()
	if settings.WebServer.Listen != "" {
		c.Listen = settings.WebServer.Listen
	}
	c.StaleTimeout = settings.Retrain.StaleTimeout
	return c
}
