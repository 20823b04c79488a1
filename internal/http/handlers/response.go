// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints. Errors are
// always written as an ErrorResponse with a stable code; 5xx errors are
// logged with the request-scoped logger before the response is written.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "receipt not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-receipt-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"receipt not found"`
}

// ExtractionErrorResponse is returned with 422 when the model answered but
// its output did not validate. RawResponse is the model text as received.
type ExtractionErrorResponse struct {
	ErrorResponse
	RawResponse string `json:"raw_response" example:"{\"receipt\": {\"merchant\": 42}}"`
}

func errorEnvelope(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// fail aborts with an ErrorResponse, logging server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	abortWith(c, status, code, msg, errorEnvelope(c, code, msg))
}

// abortWith writes body as the error payload. body must embed or be an
// ErrorResponse for code/msg.
func abortWith(c *gin.Context, status int, code, msg string, body any) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, body)
}

// Fail is the exported variant of fail() for router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
