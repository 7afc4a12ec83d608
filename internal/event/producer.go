package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/storefront-payments/internal/domain"
	pkgkafka "github.com/utafrali/storefront-payments/pkg/kafka"
	"github.com/utafrali/storefront-payments/pkg/logger"
)

// Kafka topics for payment lifecycle events.
var (
	TopicPaymentAuthorized = pkgkafka.Topic("payment", "authorized")
	TopicPaymentCaptured   = pkgkafka.Topic("payment", "captured")
	TopicPaymentCanceled   = pkgkafka.Topic("payment", "canceled")
	TopicPaymentRefunded   = pkgkafka.Topic("payment", "refunded")
)

// AggregateTypePayment is the aggregate type on every payment event.
const AggregateTypePayment = "payment"

// SourcePaymentService identifies events originating from this service.
const SourcePaymentService = "payments-service"

// PaymentData is the payload shared by authorized, captured and canceled
// events. Notification consumers use it to send invoices and receipts.
type PaymentData struct {
	PaymentID         string `json:"payment_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	OrderID           string `json:"order_id"`
	Status            string `json:"status"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	CardBrand         string `json:"card_brand,omitempty"`
	CardLast4         string `json:"card_last4,omitempty"`
	ReceiptURL        string `json:"receipt_url,omitempty"`
	CustomerEmail     string `json:"customer_email,omitempty"`
}

// PaymentRefundedData is the payload for a payment.refunded event.
type PaymentRefundedData struct {
	PaymentID         string `json:"payment_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	OrderID           string `json:"order_id"`
	RefundID          string `json:"refund_id"`
	ProviderRefundID  string `json:"provider_refund_id"`
	RefundAmountCents int64  `json:"refund_amount_cents"`
	Currency          string `json:"currency"`
	Reason            string `json:"reason,omitempty"`
	FullRefund        bool   `json:"full_refund"`
}

// Publisher sends an event envelope to a topic; *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes payment lifecycle events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the payment service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func paymentData(p *domain.Payment, email string) PaymentData {
	return PaymentData{
		PaymentID:         p.ID,
		ProviderPaymentID: p.ProviderPaymentID,
		OrderID:           p.OrderID,
		Status:            string(p.Status),
		AmountCents:       p.AmountCents,
		Currency:          p.Currency,
		CardBrand:         p.CardBrand,
		CardLast4:         p.CardLast4,
		ReceiptURL:        p.ReceiptURL,
		CustomerEmail:     email,
	}
}

// PublishPaymentAuthorized publishes a payment.authorized event.
func (p *Producer) PublishPaymentAuthorized(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	return p.publish(ctx, TopicPaymentAuthorized, payment, paymentData(payment, order.CustomerEmail))
}

// PublishPaymentCaptured publishes a payment.captured event.
func (p *Producer) PublishPaymentCaptured(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPaymentCaptured, payment, paymentData(payment, ""))
}

// PublishPaymentCanceled publishes a payment.canceled event.
func (p *Producer) PublishPaymentCanceled(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPaymentCanceled, payment, paymentData(payment, ""))
}

// PublishPaymentRefunded publishes a payment.refunded event.
func (p *Producer) PublishPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error {
	data := PaymentRefundedData{
		PaymentID:         payment.ID,
		ProviderPaymentID: payment.ProviderPaymentID,
		OrderID:           payment.OrderID,
		RefundID:          refund.ID,
		ProviderRefundID:  refund.ProviderRefundID,
		RefundAmountCents: refund.AmountCents,
		Currency:          refund.Currency,
		Reason:            refund.Reason,
		FullRefund:        refund.AmountCents == payment.AmountCents,
	}
	return p.publish(ctx, TopicPaymentRefunded, payment, data)
}

func (p *Producer) publish(ctx context.Context, topic string, payment *domain.Payment, data any) error {
	eventType := strings.TrimPrefix(topic, pkgkafka.TopicPrefix+".")
	event, err := pkgkafka.NewEvent(SourcePaymentService, eventType,
		pkgkafka.Aggregate{Type: AggregateTypePayment, ID: payment.ID}, data,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.WithMetadata("order_id", payment.OrderID),
	)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published payment event",
		slog.String("topic", topic),
		slog.String("payment_id", payment.ID),
		slog.String("order_id", payment.OrderID),
	)
	return nil
}
