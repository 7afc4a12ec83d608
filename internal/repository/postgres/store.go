package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/repository"
	"github.com/utafrali/storefront-payments/pkg/database"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// Store implements repository.Store using PostgreSQL.
type Store struct {
	db database.DBTX
}

// NewStore creates a new PostgreSQL-backed ledger store.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

var _ repository.Store = (*Store)(nil)

const orderColumns = `id, total_cents, currency, status, COALESCE(invoice_id, ''), COALESCE(invoice_url, ''),
		       COALESCE(invoice_status, ''), COALESCE(customer_email, ''), archived, created_at, updated_at`

const paymentColumns = `id, order_id, provider, provider_payment_id, status, amount_cents, currency,
		       card_brand, card_last4, receipt_url, idempotency_key, metadata, created_at, updated_at`

const refundColumns = `id, payment_id, provider_refund_id, amount_cents, currency, reason, status,
		       idempotency_key, metadata, created_at`

// GetOrder retrieves an order by its ID.
func (s *Store) GetOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetOrder", query)
	defer func() { end(err) }()

	return scanOrder(s.db.QueryRow(ctx, query, id))
}

// GetOrderByInvoiceID retrieves the order carrying the given invoice ID.
func (s *Store) GetOrderByInvoiceID(ctx context.Context, invoiceID string) (_ *domain.Order, err error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE invoice_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetOrderByInvoiceID", query)
	defer func() { end(err) }()

	return scanOrder(s.db.QueryRow(ctx, query, invoiceID))
}

// GetPaymentByProviderID retrieves a payment by the processor's payment ID.
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (_ *domain.Payment, err error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetPaymentByProviderID", query)
	defer func() { end(err) }()

	return scanPayment(s.db.QueryRow(ctx, query, providerPaymentID))
}

// ListPaymentsByOrder returns every payment attempt for an order, newest first.
func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) (_ []domain.Payment, err error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`

	ctx, end := database.TraceQuery(ctx, "ListPaymentsByOrder", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments by order: %w", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}

// ListRefundsByPayment returns the refunds recorded against a payment, newest first.
func (s *Store) ListRefundsByPayment(ctx context.Context, paymentID string) (_ []domain.Refund, err error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = $1 ORDER BY created_at DESC`

	ctx, end := database.TraceQuery(ctx, "ListRefundsByPayment", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds by payment: %w", err)
	}
	defer rows.Close()

	refunds := []domain.Refund{}
	for rows.Next() {
		var (
			ref    domain.Refund
			status string
			meta   []byte
		)
		if err := rows.Scan(
			&ref.ID,
			&ref.PaymentID,
			&ref.ProviderRefundID,
			&ref.AmountCents,
			&ref.Currency,
			&ref.Reason,
			&status,
			&ref.IdempotencyKey,
			&meta,
			&ref.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		ref.Status = domain.RefundStatus(status)
		ref.Metadata = meta
		refunds = append(refunds, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	return refunds, nil
}

// CreateOrder inserts a new order.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) (err error) {
	query := `
		INSERT INTO orders (id, total_cents, currency, status, invoice_id, invoice_url, invoice_status, customer_email, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)`

	ctx, end := database.TraceQuery(ctx, "CreateOrder", query)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, query,
		o.ID,
		o.TotalCents,
		o.Currency,
		string(o.Status),
		o.InvoiceID,
		o.InvoiceURL,
		o.InvoiceStatus,
		o.CustomerEmail,
		o.Archived,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// WithinTx runs fn inside a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rowScanner is implemented by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(
		&o.ID,
		&o.TotalCents,
		&o.Currency,
		&status,
		&o.InvoiceID,
		&o.InvoiceURL,
		&o.InvoiceStatus,
		&o.CustomerEmail,
		&o.Archived,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status string
		meta   []byte
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Provider,
		&p.ProviderPaymentID,
		&status,
		&p.AmountCents,
		&p.Currency,
		&p.CardBrand,
		&p.CardLast4,
		&p.ReceiptURL,
		&p.IdempotencyKey,
		&meta,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	p.Metadata = meta
	return &p, nil
}
