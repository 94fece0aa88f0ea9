package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// Response status values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Code     int    `json:"code"`
	Category string `json:"category,omitempty"`
}

// StatusCode maps an error category to an HTTP status
func StatusCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation, errors.CategoryImageDecode:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ok writes {"status":"ok"} merged with fields
func ok(c echo.Context, fields map[string]any) error {
	body := map[string]any{"status": StatusOK}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

// errorHandler renders every error returned by a handler as an ErrorResponse
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusCode(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, isString := he.Message.(string); isString {
			msg = m
		}
	}

	resp := ErrorResponse{Status: StatusError, Error: msg, Code: code}
	if he == nil {
		resp.Category = string(errors.CategoryOf(err))
	}

	if code >= http.StatusInternalServerError {
		GetLogger().Error("request failed",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Request().URL.Path),
			logger.Int("code", code),
			logger.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		GetLogger().Warn("failed to write error response", logger.Error(err))
	}
}
