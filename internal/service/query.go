package service

import (
	"context"
	"fmt"

	"github.com/utafrali/storefront-payments/internal/domain"
)

// PaymentDetails is a payment together with its refunds.
type PaymentDetails struct {
	Payment *domain.Payment `json:"payment"`
	Refunds []domain.Refund `json:"refunds"`
}

// GetPayment returns a payment and its refunds by the processor's payment ID.
func (s *PaymentService) GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error) {
	payment, err := s.paymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}

	refunds, err := s.store.ListRefundsByPayment(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}

	return &PaymentDetails{Payment: payment, Refunds: refunds}, nil
}

// ListOrderPayments returns every payment attempt for an order, newest first.
func (s *PaymentService) ListOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if _, err := s.orderByID(ctx, orderID); err != nil {
		return nil, err
	}

	payments, err := s.store.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order payments: %w", err)
	}
	return payments, nil
}
