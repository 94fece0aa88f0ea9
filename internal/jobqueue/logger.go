package jobqueue

import (
	"sync"

	"github.com/tphakala/wildlife-reid/internal/logger"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the jobqueue package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("jobqueue")
	})
	return pkgLogger
}
