package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/provider"
	"github.com/utafrali/storefront-payments/internal/repository"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// MaxIdempotencyKeyLen is the longest idempotency key the processor accepts.
const MaxIdempotencyKeyLen = 45

// customerDeclineMessage is all a shopper sees about a failed authorization
// besides the processor's error code.
const customerDeclineMessage = "Your payment could not be processed. Please try another card."

// AuthorizeInput holds the parameters for authorizing an order's payment.
type AuthorizeInput struct {
	SourceID          string
	OrderID           string
	IdempotencyKey    string
	VerificationToken string
	ClientIP          string
}

// AuthorizeResult is returned by Authorize. When AlreadyPaid is set no
// processor call was made and the other fields are empty.
type AuthorizeResult struct {
	AlreadyPaid       bool
	ProviderPaymentID string
	Payment           *domain.Payment
	// Raw is the processor's payment object.
	Raw json.RawMessage
}

// DefaultIdempotencyKey derives the key used when the caller supplies none,
// so retries without a key collapse onto one processor operation.
func DefaultIdempotencyKey(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("authorize:"+orderID)).String()
}

// Authorize reserves the order total on the shopper's card and records the
// resulting payment.
func (s *PaymentService) Authorize(ctx context.Context, in AuthorizeInput) (*AuthorizeResult, error) {
	in.SourceID = strings.TrimSpace(in.SourceID)
	in.OrderID = strings.TrimSpace(in.OrderID)
	if in.SourceID == "" {
		return nil, apperrors.InvalidRequest("sourceId is required")
	}
	if in.OrderID == "" {
		return nil, apperrors.InvalidRequest("orderId is required")
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyLen {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("idempotencyKey must be at most %d characters", MaxIdempotencyKeyLen))
	}

	order, err := s.orderByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusPaid {
		s.log(ctx).InfoContext(ctx, "order already paid, skipping authorization",
			slog.String("order_id", order.ID),
		)
		return &AuthorizeResult{AlreadyPaid: true}, nil
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusApproved {
		return nil, apperrors.InvalidState(fmt.Sprintf("order is %s and cannot be paid", order.Status))
	}
	if order.TotalCents <= 0 {
		return nil, apperrors.InvalidAmount(fmt.Sprintf("order %s has no amount to charge", order.ID))
	}

	existing, err := s.store.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order payments: %w", err)
	}
	for _, p := range existing {
		if p.Status.Holds() {
			return nil, apperrors.Conflict(fmt.Sprintf("order %s already has a %s payment", order.ID, p.Status))
		}
	}

	key := in.IdempotencyKey
	if key == "" {
		key = DefaultIdempotencyKey(order.ID)
	}

	res, err := s.provider.Authorize(ctx, &provider.AuthorizeInput{
		SourceID:          in.SourceID,
		IdempotencyKey:    key,
		VerificationToken: in.VerificationToken,
		ReferenceID:       order.ID,
		Amount:            provider.Money{Amount: order.TotalCents, Currency: domain.StoreCurrency},
	})
	if err != nil {
		return nil, s.authorizeFailed(ctx, in, err)
	}

	if !strings.EqualFold(res.Amount.Currency, domain.StoreCurrency) {
		s.log(ctx).ErrorContext(ctx, "processor settled in unexpected currency",
			slog.String("order_id", order.ID),
			slog.String("payment_id", res.ID),
			slog.String("currency", res.Amount.Currency),
		)
		return nil, apperrors.InvalidCurrency(fmt.Sprintf("payment settled in %s, expected %s", res.Amount.Currency, domain.StoreCurrency))
	}

	status, ok := domain.PaymentStatusFromProcessor(res.Status)
	if !ok {
		s.log(ctx).WarnContext(ctx, "unknown processor payment status, recording as pending",
			slog.String("payment_id", res.ID),
			slog.String("processor_status", res.Status),
		)
		status = domain.PaymentStatusPending
	}

	// A reused idempotency key makes the processor replay an earlier payment.
	prior, err := s.store.GetPaymentByProviderID(ctx, res.ID)
	switch {
	case err == nil && prior.Status == domain.PaymentStatusCancelled:
		return nil, s.processorFailed(ctx, in, res.ID)
	case err == nil:
		return nil, apperrors.Conflict(fmt.Sprintf("processor payment %s is already recorded as %s", res.ID, prior.Status))
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("get payment: %w", err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:                uuid.NewString(),
		OrderID:           order.ID,
		Provider:          s.provider.Name(),
		ProviderPaymentID: res.ID,
		Status:            status,
		AmountCents:       order.TotalCents,
		Currency:          domain.StoreCurrency,
		CardBrand:         res.CardBrand,
		CardLast4:         res.CardLast4,
		ReceiptURL:        res.ReceiptURL,
		IdempotencyKey:    key,
		Metadata:          res.Raw,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.recordAuthorization(ctx, order, payment); err != nil {
		return nil, err
	}

	if status == domain.PaymentStatusCancelled {
		return nil, s.processorFailed(ctx, in, res.ID)
	}

	s.tracker.Reset(in.ClientIP, order.ID)

	s.publish(ctx, "publish payment.authorized", func(ctx context.Context, p Publisher) error {
		return p.PublishPaymentAuthorized(ctx, order, payment)
	})

	s.log(ctx).InfoContext(ctx, "payment authorized",
		slog.String("order_id", order.ID),
		slog.String("payment_id", payment.ProviderPaymentID),
		slog.String("status", string(payment.Status)),
		slog.Int64("amount_cents", payment.AmountCents),
	)

	return &AuthorizeResult{
		ProviderPaymentID: payment.ProviderPaymentID,
		Payment:           payment,
		Raw:               res.Raw,
	}, nil
}

// recordAuthorization inserts the payment and moves the order in one
// transaction. If the order changed underneath us the order status is
// re-read and the write retried, so a processor-side payment is never lost.
// When another authorization already holds the order, this one is voided.
func (s *PaymentService) recordAuthorization(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	current := order
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		target, mirror := domain.OrderStatusForPayment(payment.Status)
		if payment.Status == domain.PaymentStatusCancelled {
			mirror = false
		}
		mirror = mirror && current.Status != target && current.Status.CanTransitionTo(target)
		from := current.Status

		err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
			if err := tx.CreatePayment(ctx, payment); err != nil {
				return err
			}
			if mirror {
				return tx.UpdateOrderStatus(ctx, current.ID, from, target)
			}
			return nil
		})
		if err == nil {
			if mirror {
				order.Status = target
			}
			return nil
		}
		if errors.Is(err, repository.ErrPaymentHeld) {
			s.voidSuperseded(ctx, payment)
			return apperrors.Conflict(fmt.Sprintf("order %s already has an active payment", order.ID))
		}
		if !errors.Is(err, repository.ErrStaleStatus) {
			if errors.Is(err, apperrors.ErrConflict) {
				return err
			}
			return fmt.Errorf("record authorization: %w", err)
		}

		current, err = s.orderByID(ctx, order.ID)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("record authorization: %w", repository.ErrStaleStatus)
}

// voidSuperseded cancels an authorization that lost the race for its order
// and records it as cancelled.
func (s *PaymentService) voidSuperseded(ctx context.Context, payment *domain.Payment) {
	s.log(ctx).WarnContext(ctx, "order already holds a payment, voiding duplicate authorization",
		slog.String("order_id", payment.OrderID),
		slog.String("payment_id", payment.ProviderPaymentID),
	)
	bestEffort(ctx, s.log(ctx), "void duplicate authorization", func(ctx context.Context) error {
		res, err := s.provider.Cancel(ctx, payment.ProviderPaymentID)
		if err != nil {
			return fmt.Errorf("cancel processor payment %s: %w", payment.ProviderPaymentID, err)
		}
		voided := *payment
		voided.Status = domain.PaymentStatusCancelled
		if res != nil && len(res.Raw) > 0 {
			voided.Metadata = res.Raw
		}
		return s.store.WithinTx(ctx, func(tx repository.Tx) error {
			return tx.CreatePayment(ctx, &voided)
		})
	})
}

// processorFailed counts a processor-reported failure and builds the
// shopper-facing decline.
func (s *PaymentService) processorFailed(ctx context.Context, in AuthorizeInput, providerPaymentID string) error {
	counts := s.tracker.RecordFailure(ctx, in.ClientIP, in.OrderID, "processor_failed")
	s.log(ctx).WarnContext(ctx, "processor reported failed authorization",
		slog.String("order_id", in.OrderID),
		slog.String("payment_id", providerPaymentID),
		slog.Int("ip_failures", counts.IP),
		slog.Int("order_failures", counts.Order),
	)
	return apperrors.ProcessorRejected(http.StatusPaymentRequired, "PAYMENT_FAILED", customerDeclineMessage, nil)
}

// authorizeFailed records the failure against both keys and builds the
// shopper-facing error. The processor body is logged, not returned.
func (s *PaymentService) authorizeFailed(ctx context.Context, in AuthorizeInput, err error) error {
	reason := "upstream_unavailable"
	attrs := []any{
		slog.String("order_id", in.OrderID),
		slog.String("client_ip", in.ClientIP),
		slog.String("error", err.Error()),
	}
	if perr, ok := provider.AsError(err); ok {
		reason = "processor_rejected"
		attrs = append(attrs,
			slog.Int("processor_status", perr.Status),
			slog.String("processor_code", perr.Code),
			slog.String("processor_body", string(perr.Body)),
		)
	}

	counts := s.tracker.RecordFailure(ctx, in.ClientIP, in.OrderID, reason)
	attrs = append(attrs,
		slog.String("reason", reason),
		slog.Int("ip_failures", counts.IP),
		slog.Int("order_failures", counts.Order),
		slog.Bool("threshold_hit", counts.ThresholdHit),
	)
	s.log(ctx).WarnContext(ctx, "payment authorization failed", attrs...)

	return processorError(err, customerDeclineMessage, false)
}
