package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/provider"
	"github.com/utafrali/storefront-payments/internal/repository"
	"github.com/utafrali/storefront-payments/internal/tracker"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
	"github.com/utafrali/storefront-payments/pkg/logger"
)

// maxTransitionAttempts bounds how often a guarded write is retried after
// losing a race to a concurrent transition.
const maxTransitionAttempts = 3

// Publisher sends payment lifecycle notifications. *event.Producer
// satisfies it.
type Publisher interface {
	PublishPaymentAuthorized(ctx context.Context, order *domain.Order, payment *domain.Payment) error
	PublishPaymentCaptured(ctx context.Context, payment *domain.Payment) error
	PublishPaymentCanceled(ctx context.Context, payment *domain.Payment) error
	PublishPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error
}

// PaymentService implements authorization, capture/cancel and refund on
// top of the ledger store and the processor gateway.
type PaymentService struct {
	store    repository.Store
	provider provider.Provider
	tracker  *tracker.FailureTracker
	events   Publisher
	logger   *slog.Logger
}

// NewPaymentService creates a new payment service. events may be nil, in
// which case no lifecycle notifications are sent.
func NewPaymentService(
	store repository.Store,
	prov provider.Provider,
	tr *tracker.FailureTracker,
	events Publisher,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		store:    store,
		provider: prov,
		tracker:  tr,
		events:   events,
		logger:   logger,
	}
}

func (s *PaymentService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

// bestEffort runs a non-critical step. Errors and panics are logged under
// label and never reach the caller.
func bestEffort(ctx context.Context, l *slog.Logger, label string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			l.ErrorContext(ctx, "non-critical step panicked",
				slog.String("step", label),
				slog.Any("panic", r),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		l.WarnContext(ctx, "non-critical step failed",
			slog.String("step", label),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PaymentService) publish(ctx context.Context, label string, fn func(context.Context, Publisher) error) {
	if s.events == nil {
		return
	}
	bestEffort(ctx, s.log(ctx), label, func(ctx context.Context) error {
		return fn(ctx, s.events)
	})
}

// paymentByProviderID loads a payment, mapping a miss to a NotFound error.
func (s *PaymentService) paymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	if providerPaymentID == "" {
		return nil, apperrors.InvalidRequest("paymentId is required")
	}
	payment, err := s.store.GetPaymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment", providerPaymentID)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

func (s *PaymentService) orderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// processorError converts a gateway failure into the caller-facing error.
// The processor's raw body is attached only when withBody is set.
func processorError(err error, message string, withBody bool) error {
	if perr, ok := provider.AsError(err); ok {
		if message == "" {
			message = perr.Detail
		}
		if message == "" {
			message = "payment processor rejected the request"
		}
		var body []byte
		if withBody {
			body = perr.Body
		}
		return apperrors.ProcessorRejected(perr.Status, perr.Code, message, body)
	}
	return apperrors.UpstreamUnavailable("payment processor unavailable", err)
}

// ApplyPaymentStatus moves payment to status to and mirrors the change onto
// its order in one transaction. It reports whether this call changed the
// payment. A payment already in status to, or moved elsewhere by a
// concurrent writer, is left alone and reported as unchanged. A transition
// the state machine forbids returns InvalidState.
func (s *PaymentService) ApplyPaymentStatus(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, metadata []byte) (bool, error) {
	current := payment
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if current.Status == to {
			return false, nil
		}
		if !current.Status.CanTransitionTo(to) {
			if attempt > 0 {
				s.log(ctx).InfoContext(ctx, "payment moved by concurrent transition",
					slog.String("payment_id", current.ID),
					slog.String("status", string(current.Status)),
					slog.String("wanted", string(to)),
				)
				return false, nil
			}
			return false, apperrors.InvalidState(fmt.Sprintf("payment is %s and cannot become %s", current.Status, to))
		}

		order, err := s.orderByID(ctx, current.OrderID)
		if err != nil {
			return false, err
		}
		orderTarget, mirror := domain.OrderStatusForPayment(to)
		mirror = mirror && order.Status != orderTarget && order.Status.CanTransitionTo(orderTarget)

		from := current.Status
		err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
			if err := tx.UpdatePaymentStatus(ctx, current.ID, from, to, metadata); err != nil {
				return err
			}
			if mirror {
				return tx.UpdateOrderStatus(ctx, order.ID, order.Status, orderTarget)
			}
			return nil
		})
		if err == nil {
			payment.Status = to
			if metadata != nil {
				payment.Metadata = metadata
			}
			s.log(ctx).InfoContext(ctx, "payment status changed",
				slog.String("payment_id", current.ID),
				slog.String("order_id", current.OrderID),
				slog.String("from", string(from)),
				slog.String("to", string(to)),
				slog.Bool("order_updated", mirror),
			)
			return true, nil
		}
		if !errors.Is(err, repository.ErrStaleStatus) {
			return false, fmt.Errorf("apply payment status: %w", err)
		}

		current, err = s.paymentByProviderID(ctx, current.ProviderPaymentID)
		if err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("apply payment status: %w", repository.ErrStaleStatus)
}
