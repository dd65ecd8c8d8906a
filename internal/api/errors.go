package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/compare"
	"github.com/pipewatch-io/pipewatch/internal/lineage"
)

// ErrorResponse is the JSON body returned for all API errors.
// CorrelationID lets callers tie a failed request back to server logs.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	status        int
}

// WriteErrorResponse writes a standardized JSON error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, resp *ErrorResponse) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if resp.CorrelationID == "" {
		resp.CorrelationID = correlationID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", resp.status),
		)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Internal Server Error",
		Message: message,
		status:  http.StatusInternalServerError,
	}
}

// BadRequest creates a 400 Bad Request response.
func BadRequest(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Bad Request",
		Message: message,
		status:  http.StatusBadRequest,
	}
}

// NotFound creates a 404 Not Found response.
func NotFound(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Not Found",
		Message: message,
		status:  http.StatusNotFound,
	}
}

// MethodNotAllowed creates a 405 Method Not Allowed response.
func MethodNotAllowed(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Method Not Allowed",
		Message: message,
		status:  http.StatusMethodNotAllowed,
	}
}

// UnsupportedMediaType creates a 415 Unsupported Media Type response.
func UnsupportedMediaType(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Unsupported Media Type",
		Message: message,
		status:  http.StatusUnsupportedMediaType,
	}
}

// PayloadTooLarge creates a 413 Content Too Large response.
func PayloadTooLarge(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Payload Too Large",
		Message: message,
		status:  http.StatusRequestEntityTooLarge,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable response. Used when
// build artifacts are missing or unreadable, since that state usually heals
// on the next artifact drop.
func ServiceUnavailable(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   "Service Unavailable",
		Message: message,
		status:  http.StatusServiceUnavailable,
	}
}

// fromDomainError maps a domain error to its HTTP error response: unknown
// node → 404, artifact trouble → 503, caller mistakes (unsafe path, half a
// path pair, bad snapshot label) → 400, anything else → 500 with the
// fallback message.
func fromDomainError(err error, fallback string) *ErrorResponse {
	switch {
	case errors.Is(err, lineage.ErrNodeNotFound):
		return NotFound(err.Error())
	case errors.Is(err, artifact.ErrArtifactMissing),
		errors.Is(err, artifact.ErrArtifactMalformed):
		return ServiceUnavailable(err.Error())
	case errors.Is(err, compare.ErrUnsafePath),
		errors.Is(err, compare.ErrPartialPathPair),
		errors.Is(err, artifact.ErrInvalidSnapshotLabel):
		return BadRequest(err.Error())
	default:
		return InternalServerError(fallback)
	}
}
