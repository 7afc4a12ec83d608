package domain

import "strings"

// StoreCurrency is the only currency this store settles in.
const StoreCurrency = "CAD"

// ProviderSquare names the card processor recorded on every Payment.
const ProviderSquare = "square"

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

// Order status constants.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusApproved, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusApproved:  {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusFulfilled, OrderStatusRefunded},
	OrderStatusFulfilled: {OrderStatusRefunded},
}

// ValidOrderStatuses returns all valid order statuses.
func ValidOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusApproved,
		OrderStatusPaid,
		OrderStatusFulfilled,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// IsValid reports whether s is a known order status.
func (s OrderStatus) IsValid() bool {
	for _, v := range ValidOrderStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether an order in status s may move to next.
// Staying in the same status is not a transition.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

// Payment status constants.
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusApproved, PaymentStatusCompleted, PaymentStatusCancelled},
	PaymentStatusApproved:  {PaymentStatusCompleted, PaymentStatusCancelled},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

// ValidPaymentStatuses returns all valid payment statuses.
func ValidPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusApproved,
		PaymentStatusCompleted,
		PaymentStatusCancelled,
		PaymentStatusRefunded,
	}
}

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	for _, v := range ValidPaymentStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether a payment in status s may move to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Holds reports whether the payment reserves or has taken funds, which
// blocks a second authorization for the same order.
func (s PaymentStatus) Holds() bool {
	return s == PaymentStatusApproved || s == PaymentStatusCompleted
}

// Refundable reports whether a refund may be issued against the payment.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusCompleted
}

// processorPaymentStatuses is the single place processor vocabulary is
// translated. Keys are upper-cased before lookup.
var processorPaymentStatuses = map[string]PaymentStatus{
	"PENDING":   PaymentStatusPending,
	"APPROVED":  PaymentStatusApproved,
	"COMPLETED": PaymentStatusCompleted,
	"CAPTURED":  PaymentStatusCompleted,
	"CANCELED":  PaymentStatusCancelled,
	"CANCELLED": PaymentStatusCancelled,
	"FAILED":    PaymentStatusCancelled,
	"VOIDED":    PaymentStatusCancelled,
	"REFUNDED":  PaymentStatusRefunded,
}

// PaymentStatusFromProcessor maps a processor payment status, in any
// casing, to a PaymentStatus.
func PaymentStatusFromProcessor(raw string) (PaymentStatus, bool) {
	s, ok := processorPaymentStatuses[strings.ToUpper(strings.TrimSpace(raw))]
	return s, ok
}

var invoiceOrderStatuses = map[string]OrderStatus{
	"PAID":     OrderStatusPaid,
	"CANCELED": OrderStatusCancelled,
}

// OrderStatusFromInvoice maps a processor invoice status to the order status
// it implies. Invoice states with no order-level effect return false.
func OrderStatusFromInvoice(raw string) (OrderStatus, bool) {
	s, ok := invoiceOrderStatuses[strings.ToUpper(strings.TrimSpace(raw))]
	return s, ok
}

// OrderStatusForPayment returns the order status mirrored from a payment
// status, or false when the payment status implies no order change.
func OrderStatusForPayment(s PaymentStatus) (OrderStatus, bool) {
	switch s {
	case PaymentStatusApproved:
		return OrderStatusApproved, true
	case PaymentStatusCompleted:
		return OrderStatusPaid, true
	case PaymentStatusCancelled:
		return OrderStatusCancelled, true
	case PaymentStatusRefunded:
		return OrderStatusRefunded, true
	default:
		return "", false
	}
}
