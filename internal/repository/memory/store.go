// Package memory provides in-process implementations of the repository
// interfaces for local development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/repository"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// Store is a mutex-guarded ledger. WithinTx works on a copy of the state and
// swaps it in only when the callback succeeds.
type Store struct {
	mu    sync.RWMutex
	state ledger
}

type ledger struct {
	orders   map[string]domain.Order
	payments map[string]domain.Payment // keyed by Payment.ID
	refunds  map[string]domain.Refund
}

func newLedger() ledger {
	return ledger{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		refunds:  make(map[string]domain.Refund),
	}
}

func (l ledger) clone() ledger {
	c := newLedger()
	for k, v := range l.orders {
		c.orders[k] = v
	}
	for k, v := range l.payments {
		c.payments[k] = v
	}
	for k, v := range l.refunds {
		c.refunds[k] = v
	}
	return c
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{state: newLedger()}
}

var _ repository.Store = (*Store)(nil)

// GetOrder retrieves an order by its ID.
func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &o, nil
}

// GetOrderByInvoiceID retrieves the order carrying the given invoice ID.
func (s *Store) GetOrderByInvoiceID(_ context.Context, invoiceID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if invoiceID == "" {
		return nil, apperrors.ErrNotFound
	}
	for _, o := range s.state.orders {
		if o.InvoiceID == invoiceID {
			return &o, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// GetPaymentByProviderID retrieves a payment by the processor's payment ID.
func (s *Store) GetPaymentByProviderID(_ context.Context, providerPaymentID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.state.payments {
		if p.ProviderPaymentID == providerPaymentID {
			return &p, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// ListPaymentsByOrder returns every payment attempt for an order, newest first.
func (s *Store) ListPaymentsByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := []domain.Payment{}
	for _, p := range s.state.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// ListRefundsByPayment returns the refunds recorded against a payment, newest first.
func (s *Store) ListRefundsByPayment(_ context.Context, paymentID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refunds := []domain.Refund{}
	for _, r := range s.state.refunds {
		if r.PaymentID == paymentID {
			refunds = append(refunds, r)
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.After(refunds[j].CreatedAt)
	})
	return refunds, nil
}

// CreateOrder inserts a new order.
func (s *Store) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.orders[o.ID]; exists {
		return apperrors.Conflict(fmt.Sprintf("order %s already exists", o.ID))
	}
	s.state.orders[o.ID] = *o
	return nil
}

// WithinTx runs fn against a private copy of the ledger. fn must not call
// back into the Store.
func (s *Store) WithinTx(_ context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memTx struct {
	state ledger
}

func (t *memTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	if _, exists := t.state.payments[p.ID]; exists {
		return apperrors.Conflict(fmt.Sprintf("payment %s already exists", p.ID))
	}
	for _, existing := range t.state.payments {
		if existing.ProviderPaymentID == p.ProviderPaymentID {
			return apperrors.Conflict(fmt.Sprintf("provider payment %s already recorded", p.ProviderPaymentID))
		}
	}
	if p.Status.Holds() {
		for _, existing := range t.state.payments {
			if existing.OrderID == p.OrderID && existing.Status.Holds() {
				return repository.ErrPaymentHeld
			}
		}
	}
	t.state.payments[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, id string, from, to domain.PaymentStatus, metadata json.RawMessage) error {
	p, ok := t.state.payments[id]
	if !ok {
		return apperrors.NotFound("payment", id)
	}
	if p.Status != from {
		return fmt.Errorf("payment %s: %w", id, repository.ErrStaleStatus)
	}
	p.Status = to
	if metadata != nil {
		p.Metadata = metadata
	}
	p.UpdatedAt = now()
	t.state.payments[id] = p
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id string, from, to domain.OrderStatus) error {
	o, ok := t.state.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	if o.Status != from {
		return fmt.Errorf("order %s: %w", id, repository.ErrStaleStatus)
	}
	o.Status = to
	o.UpdatedAt = now()
	t.state.orders[id] = o
	return nil
}

func (t *memTx) UpdateOrderInvoiceStatus(_ context.Context, id, invoiceStatus string) error {
	o, ok := t.state.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.InvoiceStatus = invoiceStatus
	o.UpdatedAt = now()
	t.state.orders[id] = o
	return nil
}

func (t *memTx) CreateRefund(_ context.Context, r *domain.Refund) error {
	if _, exists := t.state.refunds[r.ID]; exists {
		return apperrors.Conflict(fmt.Sprintf("refund %s already exists", r.ID))
	}
	t.state.refunds[r.ID] = *r
	return nil
}
