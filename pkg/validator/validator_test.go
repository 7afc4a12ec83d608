package validator

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authorizeBody struct {
	SourceID string `json:"sourceId" validate:"required"`
	OrderID  string `json:"orderId" validate:"required"`
	Key      string `json:"idempotencyKey,omitempty" validate:"omitempty,idemkey"`
	Note     string `json:"note" validate:"max=8"`
}

type captureBody struct {
	Action string `json:"action" validate:"required,oneof=capture cancel"`
}

type refundBody struct {
	AmountCents *int64 `json:"amountCents,omitempty" validate:"omitempty,gt=0"`
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(authorizeBody{SourceID: "cnon:ok", OrderID: "O1"}))
}

func TestValidate_MissingRequired_UsesJSONNames(t *testing.T) {
	err := Validate(authorizeBody{OrderID: "O1"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["sourceId"])
	assert.NotContains(t, fields, "orderId")
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(authorizeBody{})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Contains(t, fields, "sourceId")
	assert.Contains(t, fields, "orderId")
}

func TestValidate_MaxLength(t *testing.T) {
	err := Validate(authorizeBody{SourceID: "s", OrderID: "o", Note: "too long for it"})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be at most 8 characters", valErr.Fields()["note"])
}

func TestValidate_IdempotencyKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"", true},
		{"order-O1-attempt-2", true},
		{strings.Repeat("k", MaxIdempotencyKeyLen), true},
		{strings.Repeat("k", MaxIdempotencyKeyLen+1), false},
		{"has space", false},
		{"tab\there", false},
		{"caf\u00e9", false},
	}
	for _, tt := range tests {
		err := Validate(authorizeBody{SourceID: "s", OrderID: "o", Key: tt.key})
		if tt.valid {
			assert.NoError(t, err, tt.key)
			continue
		}
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr, tt.key)
		assert.Contains(t, valErr.Fields()["idempotencyKey"], "45 printable characters")
	}
}

func TestValidate_OneOf(t *testing.T) {
	err := Validate(captureBody{Action: "void"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be one of: capture cancel", valErr.Fields()["action"])
}

func TestValidate_GreaterThan(t *testing.T) {
	zero := int64(0)
	err := Validate(refundBody{AmountCents: &zero})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be greater than 0", valErr.Fields()["amountCents"])

	assert.NoError(t, Validate(refundBody{}))
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(authorizeBody{OrderID: "O1"})
	require.Error(t, err)
	assert.Equal(t, "sourceId is required", err.Error())
}

func TestDecodeAndValidate_Success(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sourceId":"cnon:ok","orderId":"O1"}`))
	var dst authorizeBody
	require.NoError(t, DecodeAndValidate(req, &dst))
	assert.Equal(t, "O1", dst.OrderID)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	var dst authorizeBody
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)

	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"orderId":"O1"}`))
	var dst authorizeBody
	err := DecodeAndValidate(req, &dst)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "sourceId")
}

func TestDecodeAndValidate_TrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sourceId":"a","orderId":"O1"} {"orderId":"O2"}`))
	var dst authorizeBody
	err := DecodeAndValidate(req, &dst)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "unexpected data")
}

func TestDecodeAndValidate_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var dst refundBody
	assert.ErrorIs(t, DecodeAndValidate(req, &dst), io.EOF)
}
