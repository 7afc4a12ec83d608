package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/repository"
	"github.com/utafrali/storefront-payments/pkg/database"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// txStore implements repository.Tx on an open transaction.
type txStore struct {
	tx pgx.Tx
}

var _ repository.Tx = (*txStore)(nil)

// CreatePayment inserts a new payment. Approved and completed payments lock
// the order row first, so two holds on one order cannot both commit.
func (t *txStore) CreatePayment(ctx context.Context, p *domain.Payment) (err error) {
	if p.Status.Holds() {
		if err := t.lockOrder(ctx, p.OrderID); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO payments (id, order_id, provider, provider_payment_id, status, amount_cents, currency, card_brand, card_last4, receipt_url, idempotency_key, metadata, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE $5::text NOT IN ('approved', 'completed')
		   OR NOT EXISTS (SELECT 1 FROM payments WHERE order_id = $2 AND status IN ('approved', 'completed'))`

	ctx, end := database.TraceQuery(ctx, "CreatePayment", query)
	defer func() { end(err) }()

	tag, err := t.tx.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.Provider,
		p.ProviderPaymentID,
		string(p.Status),
		p.AmountCents,
		p.Currency,
		p.CardBrand,
		p.CardLast4,
		p.ReceiptURL,
		p.IdempotencyKey,
		[]byte(p.Metadata),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("payment %s already recorded", p.ProviderPaymentID))
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrPaymentHeld
	}
	return nil
}

func (t *txStore) lockOrder(ctx context.Context, orderID string) (err error) {
	query := `SELECT id FROM orders WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockOrder", query)
	defer func() { end(err) }()

	if _, err = t.tx.Exec(ctx, query, orderID); err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	return nil
}

// UpdatePaymentStatus moves a payment from one status to another.
func (t *txStore) UpdatePaymentStatus(ctx context.Context, id string, from, to domain.PaymentStatus, metadata json.RawMessage) (err error) {
	query := `
		UPDATE payments
		SET status = $1, metadata = COALESCE($2::jsonb, metadata), updated_at = now()
		WHERE id = $3 AND status = $4`

	ctx, end := database.TraceQuery(ctx, "UpdatePaymentStatus", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, string(to), []byte(metadata), id, string(from))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", id, repository.ErrStaleStatus)
	}
	return nil
}

// UpdateOrderStatus moves an order from one status to another.
func (t *txStore) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) (err error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`

	ctx, end := database.TraceQuery(ctx, "UpdateOrderStatus", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", id, repository.ErrStaleStatus)
	}
	return nil
}

// UpdateOrderInvoiceStatus records the processor's latest invoice state.
func (t *txStore) UpdateOrderInvoiceStatus(ctx context.Context, id, invoiceStatus string) (err error) {
	query := `
		UPDATE orders
		SET invoice_status = $1, updated_at = now()
		WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "UpdateOrderInvoiceStatus", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, invoiceStatus, id)
	if err != nil {
		return fmt.Errorf("update order invoice status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// CreateRefund inserts a new refund.
func (t *txStore) CreateRefund(ctx context.Context, r *domain.Refund) (err error) {
	query := `
		INSERT INTO refunds (id, payment_id, provider_refund_id, amount_cents, currency, reason, status, idempotency_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ctx, end := database.TraceQuery(ctx, "CreateRefund", query)
	defer func() { end(err) }()

	_, err = t.tx.Exec(ctx, query,
		r.ID,
		r.PaymentID,
		r.ProviderRefundID,
		r.AmountCents,
		r.Currency,
		r.Reason,
		string(r.Status),
		r.IdempotencyKey,
		[]byte(r.Metadata),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
