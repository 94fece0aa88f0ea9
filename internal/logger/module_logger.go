package logger

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"
)

// moduleLogger is the Logger handed out by CentralLogger.Module
type moduleLogger struct {
	module  string
	handler slog.Handler
	level   slog.Level
	fields  []Field
}

// Module nests name under the current module as "parent.name"
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	child := m.clone()
	if m.module != "" {
		child.module = m.module + "." + name
	} else {
		child.module = name
	}
	return child
}

func (m *moduleLogger) clone() *moduleLogger {
	c := *m
	c.fields = slices.Clone(m.fields)
	return &c
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(levelTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.emit(parseSlogLevel(level), msg, fields)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	c := m.clone()
	c.fields = append(c.fields, fields...)
	return c
}

// WithContext adds the context's trace ID, when there is one
func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}
	if id := traceIDFrom(ctx); id != "" {
		return m.With(String(traceIDKey, id))
	}
	return m
}

// Flush is a no-op; files belong to the CentralLogger
func (m *moduleLogger) Flush() error { return nil }

func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	ctx := context.Background()
	if !m.handler.Enabled(ctx, level) {
		return
	}

	rec := slog.NewRecord(time.Now(), level, msg, 0)
	if m.module != "" {
		rec.AddAttrs(slog.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		rec.AddAttrs(toAttr(f))
	}
	for _, f := range fields {
		rec.AddAttrs(toAttr(f))
	}
	_ = m.handler.Handle(ctx, rec)
}

// toAttr renders floats with three decimals and durations as "1.5s" in every output
func toAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case bool:
		return slog.Bool(f.Key, v)
	case float32:
		return slog.Float64(f.Key, round3(float64(v)))
	case float64:
		return slog.Float64(f.Key, round3(v))
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	case time.Time:
		return slog.Time(f.Key, v)
	default:
		return slog.Any(f.Key, v)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
