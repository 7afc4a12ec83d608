package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/provider"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
)

// CaptureAction selects what Capture does with an authorization.
type CaptureAction string

// Capture actions.
const (
	ActionCapture CaptureAction = "capture"
	ActionCancel  CaptureAction = "cancel"
)

// CaptureResult is returned by Capture. AlreadyDone means the payment was
// already in the requested state and nothing was sent to the processor.
type CaptureResult struct {
	AlreadyDone bool
	Message     string
	Payment     *domain.Payment
	// Raw is the processor's payment object, empty when AlreadyDone.
	Raw json.RawMessage
}

// Capture completes or cancels an authorized payment identified by the
// processor's payment ID.
func (s *PaymentService) Capture(ctx context.Context, providerPaymentID string, action CaptureAction) (*CaptureResult, error) {
	var (
		target      domain.PaymentStatus
		doneMessage string
		call        func(context.Context, string) (*provider.PaymentResult, error)
	)
	switch action {
	case ActionCapture:
		target, doneMessage, call = domain.PaymentStatusCompleted, "Already captured", s.provider.Complete
	case ActionCancel:
		target, doneMessage, call = domain.PaymentStatusCancelled, "Already canceled", s.provider.Cancel
	default:
		return nil, apperrors.InvalidRequest(`action must be "capture" or "cancel"`)
	}

	payment, err := s.paymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status == target {
		return &CaptureResult{AlreadyDone: true, Message: doneMessage, Payment: payment}, nil
	}
	if !payment.Status.CanTransitionTo(target) {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot %s a payment that is %s", action, payment.Status))
	}

	res, err := call(ctx, providerPaymentID)
	if err != nil {
		s.log(ctx).WarnContext(ctx, "processor rejected payment "+string(action),
			slog.String("payment_id", providerPaymentID),
			slog.String("order_id", payment.OrderID),
			slog.String("error", err.Error()),
		)
		return nil, processorError(err, "", true)
	}

	reported, ok := domain.PaymentStatusFromProcessor(res.Status)
	if ok && reported != target {
		s.log(ctx).WarnContext(ctx, "processor reported unexpected status after "+string(action),
			slog.String("payment_id", providerPaymentID),
			slog.String("processor_status", res.Status),
		)
		target = reported
	}

	changed, err := s.ApplyPaymentStatus(ctx, payment, target, res.Raw)
	if err != nil {
		return nil, err
	}

	if changed {
		switch target {
		case domain.PaymentStatusCompleted:
			s.publish(ctx, "publish payment.captured", func(ctx context.Context, p Publisher) error {
				return p.PublishPaymentCaptured(ctx, payment)
			})
		case domain.PaymentStatusCancelled:
			s.publish(ctx, "publish payment.canceled", func(ctx context.Context, p Publisher) error {
				return p.PublishPaymentCanceled(ctx, payment)
			})
		}
	}

	return &CaptureResult{Payment: payment, Raw: res.Raw}, nil
}
