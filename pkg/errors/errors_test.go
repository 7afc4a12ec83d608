package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidRequest, ErrNotFound, ErrConflict, ErrInvalidState,
		ErrInvalidAmount, ErrInvalidCurrency, ErrUnauthorized, ErrBadRequest,
		ErrUpstreamUnavailable, ErrProcessorRejected, ErrServerMisconfigured, ErrInternal,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "something broke")
	assert.Contains(t, appErr.Error(), "db connection lost")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "order not found"}
	assert.Equal(t, "NOT_FOUND: order not found", appErr.Error())
}

func TestAppError_Unwrap_Nil(t *testing.T) {
	appErr := &AppError{Code: "TEST", Message: "test"}
	assert.Nil(t, appErr.Unwrap())
}

// --- Constructor functions ---

func TestConstructors_StatusAndSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		status   int
		code     string
		sentinel error
	}{
		{"invalid request", InvalidRequest("sourceId is required"), http.StatusBadRequest, "INVALID_REQUEST", ErrInvalidRequest},
		{"not found", NotFound("order", "o-1"), http.StatusNotFound, "NOT_FOUND", ErrNotFound},
		{"conflict", Conflict("already authorized"), http.StatusConflict, "CONFLICT", ErrConflict},
		{"invalid state", InvalidState("not refundable"), http.StatusBadRequest, "INVALID_STATE", ErrInvalidState},
		{"invalid amount", InvalidAmount("must be positive"), http.StatusBadRequest, "INVALID_AMOUNT", ErrInvalidAmount},
		{"invalid currency", InvalidCurrency("USD"), http.StatusBadRequest, "INVALID_CURRENCY", ErrInvalidCurrency},
		{"unauthorized", Unauthorized("bad signature"), http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized},
		{"bad request", BadRequest("malformed json"), http.StatusBadRequest, "BAD_REQUEST", ErrBadRequest},
		{"upstream", UpstreamUnavailable("processor unreachable", errors.New("dial tcp")), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", ErrUpstreamUnavailable},
		{"misconfigured", ServerMisconfigured("missing key"), http.StatusInternalServerError, "SERVER_MISCONFIGURED", ErrServerMisconfigured},
		{"internal", Internal(errors.New("boom")), http.StatusInternalServerError, "INTERNAL_ERROR", ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("payment", "PAY1")
	assert.Contains(t, err.Message, "payment")
	assert.Contains(t, err.Message, "PAY1")
}

func TestUpstreamUnavailable_KeepsCause(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := UpstreamUnavailable("processor unreachable", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestProcessorRejected_PassesStatusAndBody(t *testing.T) {
	body := json.RawMessage(`{"errors":[{"code":"CARD_DECLINED"}]}`)
	err := ProcessorRejected(http.StatusPaymentRequired, "CARD_DECLINED", "card declined", body)

	assert.Equal(t, http.StatusPaymentRequired, err.Status)
	assert.Equal(t, "CARD_DECLINED", err.Code)
	assert.JSONEq(t, string(body), string(err.Details))
	assert.True(t, errors.Is(err, ErrProcessorRejected))
}

func TestProcessorRejected_Defaults(t *testing.T) {
	err := ProcessorRejected(0, "", "unknown", nil)
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.Equal(t, "PROCESSOR_REJECTED", err.Code)
}

// --- HTTPStatus for wrapped and plain errors ---

func TestHTTPStatus_WrappedAppError(t *testing.T) {
	err := fmt.Errorf("capture: %w", Conflict("dup"))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestHTTPStatus_PlainSentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("x: %w", ErrInvalidState)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(fmt.Errorf("x: %w", ErrUpstreamUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("unknown")))
}
