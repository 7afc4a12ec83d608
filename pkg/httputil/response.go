package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
	"github.com/utafrali/storefront-payments/pkg/logger"
	"github.com/utafrali/storefront-payments/pkg/validator"
)

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Details   json.RawMessage   `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and ErrorResponse. Server-side
// failures (5xx) are logged with the request-scoped logger when the
// RequestLogger middleware is mounted, otherwise with fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	resp := ErrorResponse{RequestID: logger.CorrelationIDFromContext(r.Context())}
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
		resp.Details = appErr.Details
	} else {
		resp.Code, resp.Error = sentinelCode(err, status)
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, resp)
}

func sentinelCode(err error, status int) (string, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "NOT_FOUND", "resource not found"
	case errors.Is(err, apperrors.ErrConflict):
		return "CONFLICT", err.Error()
	case errors.Is(err, apperrors.ErrInvalidState):
		return "INVALID_STATE", err.Error()
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE", "payment processor unavailable"
	case status == http.StatusBadRequest:
		return "INVALID_REQUEST", err.Error()
	default:
		return "INTERNAL_ERROR", "an internal error occurred"
	}
}

// WriteDecodeError writes the 400 response for a body that failed
// validator.DecodeAndValidate. Validation failures carry per-field messages.
func WriteDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      "INVALID_REQUEST",
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		resp.Fields = valErr.Fields()
	}
	var decErr *validator.DecodeError
	if errors.As(err, &decErr) {
		resp.Code = "BAD_REQUEST"
		resp.Error = "request body must be valid JSON"
	}

	WriteJSON(w, http.StatusBadRequest, resp)
}
