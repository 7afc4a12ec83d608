package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/provider"
	"github.com/utafrali/storefront-payments/internal/repository"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// RefundInput holds the optional refund parameters. A nil AmountCents
// refunds the full payment.
type RefundInput struct {
	AmountCents *int64
	Reason      string
}

// RefundResult is returned by Refund.
type RefundResult struct {
	Refund *domain.Refund
	// OrderRefunded reports whether the order was marked refunded.
	OrderRefunded bool
	// Raw is the processor's refund object.
	Raw json.RawMessage
}

// Refund returns funds for a completed payment identified by the
// processor's payment ID. Amounts are not clamped to the original charge.
func (s *PaymentService) Refund(ctx context.Context, providerPaymentID string, in RefundInput) (*RefundResult, error) {
	payment, err := s.paymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}

	if !payment.Status.Refundable() {
		return nil, apperrors.InvalidState(fmt.Sprintf("payment is %s and cannot be refunded", payment.Status))
	}

	amount := payment.AmountCents
	if in.AmountCents != nil {
		amount = *in.AmountCents
	}
	if amount <= 0 {
		return nil, apperrors.InvalidAmount("refund amount must be greater than zero")
	}

	key := uuid.NewString()
	res, err := s.provider.Refund(ctx, &provider.RefundInput{
		ProviderPaymentID: providerPaymentID,
		IdempotencyKey:    key,
		Amount:            provider.Money{Amount: amount, Currency: payment.Currency},
		Reason:            in.Reason,
	})
	if err != nil {
		s.log(ctx).WarnContext(ctx, "processor rejected refund",
			slog.String("payment_id", providerPaymentID),
			slog.Int64("amount_cents", amount),
			slog.String("error", err.Error()),
		)
		return nil, processorError(err, "", true)
	}

	refund := &domain.Refund{
		ID:               uuid.NewString(),
		PaymentID:        payment.ID,
		ProviderRefundID: res.ID,
		AmountCents:      amount,
		Currency:         payment.Currency,
		Reason:           in.Reason,
		Status:           domain.RefundStatusFromProcessor(res.Status),
		IdempotencyKey:   key,
		Metadata:         res.Raw,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.recordRefund(ctx, payment, refund); err != nil {
		return nil, err
	}

	result := &RefundResult{Refund: refund, Raw: res.Raw}

	if amount == payment.AmountCents {
		bestEffort(ctx, s.log(ctx), "mark order refunded", func(ctx context.Context) error {
			if err := s.markOrderRefunded(ctx, payment.OrderID); err != nil {
				return err
			}
			result.OrderRefunded = true
			return nil
		})
	}

	s.publish(ctx, "publish payment.refunded", func(ctx context.Context, p Publisher) error {
		return p.PublishPaymentRefunded(ctx, payment, refund)
	})

	s.log(ctx).InfoContext(ctx, "payment refunded",
		slog.String("payment_id", providerPaymentID),
		slog.String("order_id", payment.OrderID),
		slog.Int64("amount_cents", amount),
		slog.Bool("order_refunded", result.OrderRefunded),
	)

	return result, nil
}

// recordRefund inserts the refund row and marks the payment refunded. If a
// concurrent refund already marked the payment, the row is still recorded.
func (s *PaymentService) recordRefund(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error {
	markPayment := true
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		from := payment.Status
		err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
			if err := tx.CreateRefund(ctx, refund); err != nil {
				return err
			}
			if markPayment {
				return tx.UpdatePaymentStatus(ctx, payment.ID, from, domain.PaymentStatusRefunded, refund.Metadata)
			}
			return nil
		})
		if err == nil {
			payment.Status = domain.PaymentStatusRefunded
			payment.Metadata = refund.Metadata
			return nil
		}
		if !errors.Is(err, repository.ErrStaleStatus) {
			return fmt.Errorf("record refund: %w", err)
		}

		current, err := s.paymentByProviderID(ctx, payment.ProviderPaymentID)
		if err != nil {
			return err
		}
		payment.Status = current.Status
		markPayment = current.Status.CanTransitionTo(domain.PaymentStatusRefunded)
	}
	return fmt.Errorf("record refund: %w", repository.ErrStaleStatus)
}

func (s *PaymentService) markOrderRefunded(ctx context.Context, orderID string) error {
	order, err := s.orderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusRefunded {
		return nil
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusRefunded) {
		return fmt.Errorf("order %s is %s and cannot be marked refunded", order.ID, order.Status)
	}
	return s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.UpdateOrderStatus(ctx, order.ID, order.Status, domain.OrderStatusRefunded)
	})
}
