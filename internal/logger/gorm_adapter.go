package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// maxLoggedSQL caps statement text in records; batched upserts of annotation rows get long
const maxLoggedSQL = 512

// QueryObserver is told about every statement GORM executes
type QueryObserver func(elapsed time.Duration, err error)

// GormQueryLogger implements gorm's logger.Interface on a module logger.
// Statements log at trace, slow ones and failures at warn. Missing rows are not failures.
type GormQueryLogger struct {
	log      Logger
	slow     time.Duration
	observer QueryObserver
}

// NewGormQueryLogger creates a query logger. slow <= 0 disables the slow query warning.
func NewGormQueryLogger(log Logger, slow time.Duration, observer QueryObserver) *GormQueryLogger {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormQueryLogger{log: log, slow: slow, observer: observer}
}

// LogMode is a no-op, module levels decide what is written
func (g *GormQueryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *GormQueryLogger) Info(_ context.Context, format string, args ...any) {
	g.log.Debug(fmt.Sprintf(format, args...))
}

func (g *GormQueryLogger) Warn(_ context.Context, format string, args ...any) {
	g.log.Warn(fmt.Sprintf(format, args...))
}

func (g *GormQueryLogger) Error(_ context.Context, format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}

func (g *GormQueryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = nil
	}
	if g.observer != nil {
		g.observer(elapsed, err)
	}

	statement, rows := fc()
	if len(statement) > maxLoggedSQL {
		statement = statement[:maxLoggedSQL] + "..."
	}
	fields := []Field{
		String("sql", statement),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}

	switch {
	case err != nil:
		g.log.Warn("statement failed", append(fields, Error(err))...)
	case g.slow > 0 && elapsed > g.slow:
		g.log.Warn("slow statement", append(fields, Duration("threshold", g.slow))...)
	default:
		g.log.Trace("statement", fields...)
	}
}
