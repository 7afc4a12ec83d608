package domain

import (
	"encoding/json"
	"time"
)

// Payment is one authorization attempt against the processor for an Order.
// AmountCents is fixed at insert; refunds are recorded as Refund rows.
type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"orderId"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"providerPaymentId"`
	Status            PaymentStatus   `json:"status"`
	AmountCents       int64           `json:"amountCents"`
	Currency          string          `json:"currency"`
	CardBrand         string          `json:"cardBrand,omitempty"`
	CardLast4         string          `json:"cardLast4,omitempty"`
	ReceiptURL        string          `json:"receiptUrl,omitempty"`
	IdempotencyKey    string          `json:"idempotencyKey"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}
