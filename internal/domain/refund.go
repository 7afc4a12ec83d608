package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RefundStatus is the processor-reported state of a refund.
type RefundStatus string

// Refund status constants.
const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundStatusFromProcessor maps a processor refund status to RefundStatus.
// Unknown values are treated as pending.
func RefundStatusFromProcessor(raw string) RefundStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED":
		return RefundStatusCompleted
	case "REJECTED":
		return RefundStatusRejected
	case "FAILED":
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

// Refund records one successful refund call against a Payment.
type Refund struct {
	ID               string          `json:"id"`
	PaymentID        string          `json:"paymentId"`
	ProviderRefundID string          `json:"providerRefundId"`
	AmountCents      int64           `json:"amountCents"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason,omitempty"`
	Status           RefundStatus    `json:"status"`
	IdempotencyKey   string          `json:"idempotencyKey"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}
