// Package logger is the module-aware structured logger shared by every reid package.
//
// Packages keep a lazily created module logger:
//
//	func GetLogger() logger.Logger {
//		logOnce.Do(func() { pkgLogger = logger.Global().Module("retrain") })
//		return pkgLogger
//	}
//
// The command layer builds a CentralLogger from settings and installs it with SetGlobal
// before any package logs.
package logger

import (
	"context"
	"time"
)

// LogLevel is a level name as written in the configuration
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const (
	errorKey   = "error"
	moduleKey  = "module"
	traceIDKey = "trace_id"
)

// Field is one key/value pair of a record
type Field struct {
	Key   string
	Value any
}

// Logger writes records for one module
type Logger interface {
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	Flush() error
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

// Duration renders as "1.5s", rounded to milliseconds
func Duration(key string, value time.Duration) Field { return Field{key, value} }

// Error always uses the "error" key
func Error(err error) Field {
	if err == nil {
		return Field{errorKey, nil}
	}
	return Field{errorKey, err.Error()}
}
