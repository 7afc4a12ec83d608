package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable marks a failure to reach the processor at all: transport
// errors, timeouts, an open circuit, or a 5xx without a structured body.
var ErrUnavailable = errors.New("payment processor unavailable")

// Error is a structured rejection returned by the processor.
type Error struct {
	// Status is the processor's HTTP status code.
	Status   int
	Category string
	Code     string
	Detail   string
	// Body is the processor's raw error payload.
	Body json.RawMessage
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("processor error %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("processor error %d %s", e.Status, e.Code)
}

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// AuthorizeInput holds the parameters for an auth-only payment.
type AuthorizeInput struct {
	SourceID          string
	IdempotencyKey    string
	VerificationToken string
	ReferenceID       string
	Amount            Money
}

// PaymentResult is the processor's view of a payment after an operation.
type PaymentResult struct {
	ID         string
	Status     string // processor vocabulary, see domain.PaymentStatusFromProcessor
	Amount     Money
	CardBrand  string
	CardLast4  string
	ReceiptURL string
	// Raw is the processor's payment object.
	Raw json.RawMessage
}

// RefundInput holds the parameters for refunding a payment.
type RefundInput struct {
	ProviderPaymentID string
	IdempotencyKey    string
	Amount            Money
	Reason            string
}

// RefundResult is the processor's view of a refund.
type RefundResult struct {
	ID     string
	Status string
	Amount Money
	// Raw is the processor's refund object.
	Raw json.RawMessage
}

// Provider is the Processor Gateway. Implementations return *Error for
// structured rejections and wrap ErrUnavailable for everything else.
type Provider interface {
	// Name returns the provider name recorded on payments.
	Name() string

	// Authorize reserves funds without capturing them.
	Authorize(ctx context.Context, input *AuthorizeInput) (*PaymentResult, error)

	// Complete captures a previously authorized payment.
	Complete(ctx context.Context, providerPaymentID string) (*PaymentResult, error)

	// Cancel voids a previously authorized payment.
	Cancel(ctx context.Context, providerPaymentID string) (*PaymentResult, error)

	// Refund returns funds for a completed payment.
	Refund(ctx context.Context, input *RefundInput) (*RefundResult, error)
}

// AsError returns the structured processor error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
