package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("resource not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("bad request")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrProcessorRejected   = errors.New("processor rejected")
	ErrServerMisconfigured = errors.New("server misconfigured")
	ErrInternal            = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
// Details carries an optional raw payload (e.g. a processor error body) that
// is surfaced to operators verbatim.
type AppError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Status  int             `json:"-"`
	Err     error           `json:"-"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidRequest creates a 400 error for malformed caller input.
func InvalidRequest(message string) *AppError {
	return &AppError{
		Code:    "INVALID_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidRequest,
	}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// InvalidState creates a 400 error for an operation the current status forbids.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidState,
	}
}

// InvalidAmount creates a 400 error.
func InvalidAmount(message string) *AppError {
	return &AppError{
		Code:    "INVALID_AMOUNT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidAmount,
	}
}

// InvalidCurrency creates a 400 error.
func InvalidCurrency(message string) *AppError {
	return &AppError{
		Code:    "INVALID_CURRENCY",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidCurrency,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// BadRequest creates a 400 error for an unparsable payload.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrBadRequest,
	}
}

// UpstreamUnavailable creates a 502 error for a transport failure to a
// remote dependency.
func UpstreamUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    "UPSTREAM_UNAVAILABLE",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     errors.Join(ErrUpstreamUnavailable, err),
	}
}

// ProcessorRejected creates an error that carries the payment processor's own
// status code, error code and raw body.
func ProcessorRejected(status int, code, message string, body json.RawMessage) *AppError {
	if status < 400 {
		status = http.StatusBadGateway
	}
	if code == "" {
		code = "PROCESSOR_REJECTED"
	}
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     ErrProcessorRejected,
		Details: body,
	}
}

// ServerMisconfigured creates a 500 error for missing required configuration.
func ServerMisconfigured(message string) *AppError {
	return &AppError{
		Code:    "SERVER_MISCONFIGURED",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     ErrServerMisconfigured,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrInternal, err),
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
