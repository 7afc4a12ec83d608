package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/utafrali/storefront-payments/internal/domain"
)

// ErrStaleStatus is returned by guarded status updates when the row no longer
// holds the expected status, i.e. a concurrent transition got there first.
var ErrStaleStatus = errors.New("status changed concurrently")

// ErrPaymentHeld is returned by CreatePayment when the order already has an
// approved or completed payment and the new one would be a second hold.
var ErrPaymentHeld = errors.New("order already holds a payment")

// Store is the Ledger Store: typed reads over orders, payments and refunds
// plus a transaction primitive for multi-record writes. Lookups that find
// nothing return apperrors.ErrNotFound.
type Store interface {
	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// GetOrderByInvoiceID retrieves the order carrying the processor invoice ID.
	GetOrderByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error)

	// GetPaymentByProviderID retrieves a payment by the processor's payment ID.
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error)

	// ListPaymentsByOrder returns every payment attempt for an order, newest first.
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)

	// ListRefundsByPayment returns the refunds recorded against a payment, newest first.
	ListRefundsByPayment(ctx context.Context, paymentID string) ([]domain.Refund, error)

	// CreateOrder inserts a new order.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// WithinTx runs fn in a single transaction. Every write made through the
	// Tx is committed together when fn returns nil and discarded otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of the Ledger Store, only available inside WithinTx.
type Tx interface {
	// CreatePayment inserts a new payment. An approved or completed payment
	// is refused with ErrPaymentHeld when its order already holds one.
	CreatePayment(ctx context.Context, payment *domain.Payment) error

	// UpdatePaymentStatus moves a payment from one status to another. A nil
	// metadata keeps the stored value. Returns ErrStaleStatus when the
	// payment is no longer in status from.
	UpdatePaymentStatus(ctx context.Context, id string, from, to domain.PaymentStatus, metadata json.RawMessage) error

	// UpdateOrderStatus moves an order from one status to another. Returns
	// ErrStaleStatus when the order is no longer in status from.
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error

	// UpdateOrderInvoiceStatus records the processor's latest invoice state.
	UpdateOrderInvoiceStatus(ctx context.Context, id, invoiceStatus string) error

	// CreateRefund inserts a new refund.
	CreateRefund(ctx context.Context, refund *domain.Refund) error
}

// EventLog remembers processed webhook event IDs so exact redeliveries can be
// skipped before touching the ledger.
type EventLog interface {
	// IsProcessed reports whether eventID has already been handled.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records eventID as handled.
	MarkProcessed(ctx context.Context, eventID string) error
}
