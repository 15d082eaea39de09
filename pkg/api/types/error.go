package types

import (
	"context"
	"errors"
	"net/http"

	"mercator-hq/exporter/pkg/export"
)

// ErrorResponse is the JSON envelope of every API error.
//
//	{"error": {"type": "validation_error", "message": "...", "field": "format"}}
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Type categorizes the error; see the ErrorType constants.
	Type string `json:"type"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Field names the offending request field of a validation error.
	Field string `json:"field,omitempty"`
}

// Error type constants.
const (
	// ErrorTypeValidation indicates a rejected request (400).
	ErrorTypeValidation = "validation_error"

	// ErrorTypeInvalidState indicates an operation not allowed in the
	// export's current status (400).
	ErrorTypeInvalidState = "invalid_state"

	// ErrorTypeAuthentication indicates a missing or unknown API key (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypePermissionDenied indicates an ownership mismatch (403).
	ErrorTypePermissionDenied = "permission_denied"

	// ErrorTypeNotFound indicates an unknown export or route (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeRequestTooLarge indicates an oversized request body (413).
	ErrorTypeRequestTooLarge = "request_too_large"

	// ErrorTypeRateLimitExceeded indicates too many creates (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeServiceUnavailable indicates a saturated engine (503).
	ErrorTypeServiceUnavailable = "service_unavailable"

	// ErrorTypeTimeout indicates the request deadline passed (504).
	ErrorTypeTimeout = "timeout"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(errorType, message, field string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
			Field:   field,
		},
	}
}

// NewValidationError creates an error response for invalid requests (400).
func NewValidationError(message, field string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeValidation, message, field)
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeServerError, message, "")
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeInvalidState:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts an engine error to an error response. Errors that do
// not belong to the API contract become a generic server error so internal
// details never reach clients.
func FromError(err error) *ErrorResponse {
	var verr *export.ValidationError
	if errors.As(err, &verr) {
		return NewValidationError(verr.Reason, verr.Field)
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return NewErrorResponse(ErrorTypeRequestTooLarge, "request body too large", "")
	}

	switch {
	case errors.Is(err, export.ErrInvalidState):
		return NewErrorResponse(ErrorTypeInvalidState, err.Error(), "")
	case errors.Is(err, export.ErrNotFound):
		return NewErrorResponse(ErrorTypeNotFound, "export not found", "")
	case errors.Is(err, export.ErrForbidden):
		return NewErrorResponse(ErrorTypePermissionDenied, "access denied", "")
	case errors.Is(err, export.ErrRateLimited):
		return NewErrorResponse(ErrorTypeRateLimitExceeded, err.Error(), "")
	case errors.Is(err, export.ErrOverloaded):
		return NewErrorResponse(ErrorTypeServiceUnavailable, err.Error(), "")
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorResponse(ErrorTypeTimeout, "request timed out", "")
	}

	return NewServerError("An internal error occurred. Please try again later.")
}
