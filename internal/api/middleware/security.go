package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/wildlife-reid/internal/logger"
)

// SessionIDHeader names the collection in requests of older review clients
const SessionIDHeader = "SessionID"

// Origins lists the browser origins allowed to call the API; empty means any
type Origins []string

// NewCORS admits the review UI origins, the SessionID header and the request id
func NewCORS(origins Origins) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = Origins{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestID,
			SessionIDHeader,
		},
		ExposeHeaders: []string{echo.HeaderXRequestID},
	})
}

// NewRequestID tags each request with an id and puts it on the request context,
// so loggers built with WithContext carry it as trace_id
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		},
	})
}

// NewHardening caps request bodies (e.g. "64M" for photo uploads) and sets
// the nosniff and frame headers
func NewHardening(bodyLimit string) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.BodyLimit(bodyLimit),
		middleware.SecureWithConfig(middleware.SecureConfig{
			ContentTypeNosniff: "nosniff",
			XFrameOptions:      "DENY",
		}),
	}
}
