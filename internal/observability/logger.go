package observability

import "github.com/tphakala/wildlife-reid/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
