// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, the mapping from service errors to status and code, and small
// success writers.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "profile not found"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/services"
	"github.com/tbourn/go-auras-backend/internal/shardqueue"
	"github.com/tbourn/go-auras-backend/internal/sysutil"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"profile not found"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: sysutil.FirstNonEmpty(middleware.RequestIDFrom(c), c.Writer.Header().Get("X-Request-ID")),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// classify maps a service error to its HTTP status, code and message.
// Unknown errors become 500 with a generic message.
func classify(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, services.ErrProfileNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "profile not found"
	case errors.Is(err, services.ErrChatNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "chat not found"
	case errors.Is(err, services.ErrMatchNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "match not found"
	case errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeBadRequest, "text required"
	case errors.Is(err, services.ErrMessageTooLong):
		return http.StatusBadRequest, ErrCodeMessageTooLong, err.Error()
	case errors.Is(err, services.ErrInvalidPreferences):
		return http.StatusUnprocessableEntity, ErrCodeValidation, err.Error()
	case errors.Is(err, services.ErrAlreadyMatched):
		return http.StatusConflict, ErrCodeAlreadyMatched, "already matched"
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition, "match request is no longer pending"
	case errors.Is(err, services.ErrRealChatOnly):
		return http.StatusConflict, ErrCodeRealChat, "conversation is with the real person"
	case errors.Is(err, shardqueue.ErrQueueFull):
		return http.StatusServiceUnavailable, ErrCodeUnavailable, "busy, retry shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out"
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
}

// failErr writes the classified error. The cause of a 500 only goes to the
// log.
func failErr(c *gin.Context, err error) {
	status, code, msg := classify(err)
	switch status {
	case http.StatusInternalServerError:
		middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
	}
	fail(c, status, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
