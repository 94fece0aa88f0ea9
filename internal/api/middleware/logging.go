// Package middleware holds the echo middleware of the API server.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/wildlife-reid/internal/logger"
)

// NewRequestLogger writes one record per request not matched by skip.
// Failed requests log at warn, the rest at debug.
func NewRequestLogger(log logger.Logger, skip middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:    skip,
		LogStatus:  true,
		LogMethod:  true,
		LogURI:     true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := log.WithContext(c.Request().Context())
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if collection := c.QueryParam("collection_id"); collection != "" {
				fields = append(fields, logger.String("collection_id", collection))
			}
			if v.Error != nil {
				l.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			l.Debug("request", fields...)
			return nil
		},
	})
}
