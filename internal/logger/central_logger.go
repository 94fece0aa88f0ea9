package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

// levelTrace sits below slog.LevelDebug
const levelTrace = slog.Level(-8)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process logger
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the process logger. Before SetGlobal it is an info level console logger.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			tz:           time.Local,
			defaultLevel: slog.LevelInfo,
			base:         newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
		}
	}
	return global
}

type traceIDContextKey struct{}

// TraceIDKey is the context key WithTraceID stores under
var TraceIDKey traceIDContextKey

// WithTraceID attaches a request or job trace ID that WithContext picks up
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

// route is a module with a dedicated log file
type route struct {
	handler slog.Handler
	level   slog.Level
}

// CentralLogger owns the log outputs and hands out module loggers.
// Console records are text, file records are JSON.
type CentralLogger struct {
	tz           *time.Location
	defaultLevel slog.Level
	levels       map[string]slog.Level
	base         slog.Handler
	routes       map[string]route

	mu    sync.RWMutex
	files []*bufferedFileWriter
}

// NewCentralLogger opens the outputs described by cfg
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{
		tz:           tz,
		defaultLevel: parseLogLevel(cfg.DefaultLevel),
		levels:       make(map[string]slog.Level, len(cfg.ModuleLevels)),
		routes:       make(map[string]route),
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	var console slog.Handler
	if cfg.Console.Enabled {
		console = newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz)
	}

	var outputs []slog.Handler
	if console != nil {
		outputs = append(outputs, console)
	}
	if cfg.FileOutput.Enabled {
		w, err := cl.openFile(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, jsonHandler(w, parseLogLevel(cfg.FileOutput.Level)))
	}
	if len(outputs) == 0 {
		outputs = append(outputs, newTextHandler(os.Stdout, cl.defaultLevel, tz))
	}
	cl.base = fanout(outputs...)

	for module, out := range cfg.ModuleOutputs {
		if !out.Enabled || out.FilePath == "" {
			continue
		}
		level := cl.levelOf(module)
		if out.Level != "" {
			level = parseLogLevel(out.Level)
		}
		w, err := cl.openFile(out.FilePath)
		if err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("module %s: %w", module, err)
		}
		handlers := []slog.Handler{jsonHandler(w, level)}
		if out.ConsoleAlso && console != nil {
			handlers = append(handlers, newTextHandler(os.Stdout, level, tz))
		}
		cl.routes[module] = route{handler: fanout(handlers...), level: level}
	}

	return cl, nil
}

// NewSlogLogger returns a text logger on w that is not attached to any CentralLogger.
// A nil writer discards output.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		handler: newTextHandler(w, lvl, tz),
		level:   lvl,
	}
}

func (cl *CentralLogger) openFile(path string) (*bufferedFileWriter, error) {
	w, err := newBufferedFileWriter(path)
	if err != nil {
		return nil, err
	}
	cl.mu.Lock()
	cl.files = append(cl.files, w)
	cl.mu.Unlock()
	return w, nil
}

func (cl *CentralLogger) levelOf(module string) slog.Level {
	if level, ok := cl.levels[module]; ok {
		return level
	}
	return cl.defaultLevel
}

// Module returns the logger of a named module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	if r, ok := cl.routes[name]; ok {
		return &moduleLogger{module: name, handler: r.handler, level: r.level}
	}
	return &moduleLogger{module: name, handler: cl.base, level: cl.levelOf(name)}
}

// Flush pushes buffered file output to the OS
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	var errs []error
	for _, w := range cl.files {
		if err := w.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes, syncs and closes every log file
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	var errs []error
	for _, w := range cl.files {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	cl.files = nil
	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	return parseSlogLevel(LogLevel(level))
}

func parseSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
