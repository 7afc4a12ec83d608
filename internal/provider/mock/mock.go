package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-payments/internal/provider"
)

// Source IDs that make the mock processor fail.
const (
	SourceDeclined    = "cnon:card-declined"
	SourceUnavailable = "cnon:unavailable"
)

// Provider is an in-process payment processor for development. Payment IDs
// are derived from the idempotency key, so retries resolve to the same
// payment the way a real processor would.
type Provider struct {
	mu       sync.Mutex
	payments map[string]*mockPayment
}

type mockPayment struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	AmountMoney provider.Money `json:"amount_money"`
	ReferenceID string         `json:"reference_id,omitempty"`
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a new mock payment provider.
func NewProvider() *Provider {
	return &Provider{payments: make(map[string]*mockPayment)}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mock"
}

// Authorize approves every source except the failure sentinels.
func (p *Provider) Authorize(_ context.Context, input *provider.AuthorizeInput) (*provider.PaymentResult, error) {
	switch input.SourceID {
	case SourceDeclined:
		return nil, rejection(http.StatusPaymentRequired, "PAYMENT_METHOD_ERROR", "CARD_DECLINED", "Card declined.")
	case SourceUnavailable:
		return nil, fmt.Errorf("%w: mock processor offline", provider.ErrUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := "mock_pay_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(input.IdempotencyKey)).String()
	pay, ok := p.payments[id]
	if !ok {
		pay = &mockPayment{ID: id, Status: "APPROVED", AmountMoney: input.Amount, ReferenceID: input.ReferenceID}
		p.payments[id] = pay
	}
	return paymentResult(pay), nil
}

// Complete captures an approved payment.
func (p *Provider) Complete(_ context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	return p.transition(providerPaymentID, "COMPLETED")
}

// Cancel voids an approved payment.
func (p *Provider) Cancel(_ context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	return p.transition(providerPaymentID, "CANCELED")
}

// Refund completes immediately for any captured payment.
func (p *Provider) Refund(_ context.Context, input *provider.RefundInput) (*provider.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pay, ok := p.payments[input.ProviderPaymentID]
	if !ok {
		return nil, rejection(http.StatusNotFound, "INVALID_REQUEST_ERROR", "NOT_FOUND", "Payment not found.")
	}
	if pay.Status != "COMPLETED" {
		return nil, rejection(http.StatusBadRequest, "INVALID_REQUEST_ERROR", "PAYMENT_NOT_REFUNDABLE", "Payment is not completed.")
	}

	refund := map[string]any{
		"id":           "mock_ref_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(input.IdempotencyKey)).String(),
		"status":       "COMPLETED",
		"payment_id":   pay.ID,
		"amount_money": input.Amount,
		"reason":       input.Reason,
	}
	raw, _ := json.Marshal(refund)

	return &provider.RefundResult{
		ID:     refund["id"].(string),
		Status: "COMPLETED",
		Amount: input.Amount,
		Raw:    raw,
	}, nil
}

func (p *Provider) transition(id, to string) (*provider.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pay, ok := p.payments[id]
	if !ok {
		return nil, rejection(http.StatusNotFound, "INVALID_REQUEST_ERROR", "NOT_FOUND", "Payment not found.")
	}
	if pay.Status != "APPROVED" && pay.Status != to {
		return nil, rejection(http.StatusBadRequest, "INVALID_REQUEST_ERROR", "BAD_REQUEST",
			fmt.Sprintf("Payment is %s.", pay.Status))
	}
	pay.Status = to
	return paymentResult(pay), nil
}

func paymentResult(pay *mockPayment) *provider.PaymentResult {
	raw, _ := json.Marshal(pay)
	return &provider.PaymentResult{
		ID:        pay.ID,
		Status:    pay.Status,
		Amount:    pay.AmountMoney,
		CardBrand: "VISA",
		CardLast4: "1111",
		Raw:       raw,
	}
}

func rejection(status int, category, code, detail string) *provider.Error {
	body, _ := json.Marshal(map[string]any{
		"errors": []map[string]string{{"category": category, "code": code, "detail": detail}},
	})
	return &provider.Error{Status: status, Category: category, Code: code, Detail: detail, Body: body}
}
