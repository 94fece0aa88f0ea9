// Package telemetry provides opt-in error tracking
package telemetry

import (
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

const flushTimeout = 2 * time.Second

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the telemetry package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("telemetry")
	})
	return pkgLogger
}

// Option adjusts the Sentry client options
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initialises Sentry when enabled and routes built errors to it.
// The returned function flushes pending events and must be called on shutdown.
func InitSentry(settings *conf.SentrySettings, info buildinfo.Context, opts ...Option) (func(), error) {
	if !settings.Enabled {
		errors.SetTelemetryReporter(nil)
		GetLogger().Debug("sentry telemetry disabled")
		return func() {}, nil
	}
	if settings.DSN == "" {
		return nil, errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          "wildlife-reid@" + info.Version,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := sentry.Init(options); err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		if info.SystemID != "" {
			scope.SetTag("system_id", info.SystemID)
		}
	})
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	GetLogger().Info("sentry telemetry enabled",
		logger.String("release", options.Release))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips host and user identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
