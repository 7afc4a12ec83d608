// Package webhook reconciles processor callbacks against the local ledger.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy signature scheme, opt-in only
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/repository"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
	"github.com/utafrali/storefront-payments/pkg/logger"
)

// Event types the reconciler acts on.
const (
	EventPaymentUpdated = "payment.updated"
	EventInvoiceUpdated = "invoice.updated"
)

// Outcome values reported in Result.Status and the events metric.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Config holds what the reconciler needs to verify a callback.
type Config struct {
	SignatureKey    string
	CallbackURL     string
	AllowLegacySHA1 bool
}

// Request is one inbound callback: the raw body and the signature headers.
type Request struct {
	Body            []byte
	SignatureSHA256 string
	SignatureSHA1   string
}

// Result describes what the reconciler did with an event.
type Result struct {
	EventID string `json:"eventId,omitempty"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	// unmatched is set when the event names a record not stored yet, so a
	// redelivery may still reconcile it.
	unmatched bool
}

// PaymentApplier moves a payment and its order together.
// *service.PaymentService satisfies it.
type PaymentApplier interface {
	ApplyPaymentStatus(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, metadata []byte) (bool, error)
}

type envelope struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	MerchantID string `json:"merchant_id"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment json.RawMessage `json:"payment"`
			Invoice *invoiceObject  `json:"invoice"`
		} `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountMoney struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
}

type invoiceObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Reconciler verifies processor callbacks and applies them to the ledger.
type Reconciler struct {
	cfg      Config
	store    repository.Store
	payments PaymentApplier
	seen     repository.EventLog
	logger   *slog.Logger
	events   *prometheus.CounterVec
}

// NewReconciler creates a Reconciler. seen may be nil, in which case every
// delivery is processed and idempotency rests on the status guards alone.
func NewReconciler(
	cfg Config,
	store repository.Store,
	payments PaymentApplier,
	seen repository.EventLog,
	logger *slog.Logger,
	reg prometheus.Registerer,
) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		payments: payments,
		seen:     seen,
		logger:   logger,
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processor webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

// Handle verifies and applies one callback. Only signature, parse and
// configuration problems are returned as errors; everything the ledger
// cannot act on is reported as a skipped Result so the processor stops
// redelivering it.
func (r *Reconciler) Handle(ctx context.Context, req Request) (*Result, error) {
	log := logger.WithContext(ctx, r.logger)

	if r.cfg.SignatureKey == "" || r.cfg.CallbackURL == "" {
		log.ErrorContext(ctx, "webhook signature key or callback URL not configured")
		r.events.WithLabelValues("unknown", OutcomeFailed).Inc()
		return nil, apperrors.ServerMisconfigured("webhook verification is not configured")
	}

	if !r.verify(req) {
		log.WarnContext(ctx, "webhook signature mismatch",
			slog.Bool("sha256_present", req.SignatureSHA256 != ""),
			slog.Bool("sha1_present", req.SignatureSHA1 != ""),
		)
		r.events.WithLabelValues("unknown", OutcomeRejected).Inc()
		return nil, apperrors.Unauthorized("invalid webhook signature")
	}

	var evt envelope
	if err := json.Unmarshal(req.Body, &evt); err != nil {
		r.events.WithLabelValues("unknown", OutcomeRejected).Inc()
		return nil, apperrors.BadRequest("webhook body is not valid JSON")
	}

	log = log.With(slog.String("event_id", evt.EventID), slog.String("event_type", evt.Type))

	if r.alreadySeen(ctx, log, evt.EventID) {
		r.events.WithLabelValues(evt.Type, OutcomeDuplicate).Inc()
		return &Result{EventID: evt.EventID, Type: evt.Type, Status: OutcomeDuplicate}, nil
	}

	var (
		res *Result
		err error
	)
	switch evt.Type {
	case EventPaymentUpdated:
		res, err = r.handlePaymentUpdated(ctx, log, &evt)
	case EventInvoiceUpdated:
		res, err = r.handleInvoiceUpdated(ctx, log, &evt)
	default:
		log.InfoContext(ctx, "ignoring unhandled webhook event type")
		res = &Result{Status: OutcomeSkipped, Message: "unhandled event type"}
	}
	if err != nil {
		r.events.WithLabelValues(evt.Type, OutcomeFailed).Inc()
		return nil, err
	}

	res.EventID, res.Type = evt.EventID, evt.Type
	r.events.WithLabelValues(evt.Type, res.Status).Inc()
	if !res.unmatched {
		r.markSeen(ctx, log, evt.EventID)
	}
	return res, nil
}

// verify checks the SHA-256 signature first and falls back to SHA-1 only
// when the legacy scheme is enabled.
func (r *Reconciler) verify(req Request) bool {
	if req.SignatureSHA256 != "" && signatureMatches(sha256.New, r.cfg.SignatureKey, r.cfg.CallbackURL, req.Body, req.SignatureSHA256) {
		return true
	}
	if r.cfg.AllowLegacySHA1 && req.SignatureSHA1 != "" {
		return signatureMatches(sha1.New, r.cfg.SignatureKey, r.cfg.CallbackURL, req.Body, req.SignatureSHA1)
	}
	return false
}

// Sign returns the base64 HMAC-SHA256 of callbackURL+body under key.
func Sign(key, callbackURL string, body []byte) string {
	return sign(sha256.New, key, callbackURL, body)
}

// SignLegacy returns the base64 HMAC-SHA1 of callbackURL+body under key.
func SignLegacy(key, callbackURL string, body []byte) string {
	return sign(sha1.New, key, callbackURL, body)
}

func sign(h func() hash.Hash, key, callbackURL string, body []byte) string {
	mac := hmac.New(h, []byte(key))
	mac.Write([]byte(callbackURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signatureMatches(h func() hash.Hash, key, callbackURL string, body []byte, signature string) bool {
	expected := sign(h, key, callbackURL, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func (r *Reconciler) handlePaymentUpdated(ctx context.Context, log *slog.Logger, evt *envelope) (*Result, error) {
	raw := evt.Data.Object.Payment
	var obj paymentObject
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj.ID == "" {
		log.WarnContext(ctx, "payment.updated without payment object")
		return &Result{Status: OutcomeSkipped, Message: "no payment in event"}, nil
	}
	log = log.With(slog.String("payment_id", obj.ID))

	payment, err := r.store.GetPaymentByProviderID(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.InfoContext(ctx, "webhook for unknown payment")
			return &Result{Status: OutcomeSkipped, Message: "unknown payment", unmatched: true}, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	currency := obj.AmountMoney.Currency
	if currency == "" {
		currency = payment.Currency
	}
	if !strings.EqualFold(currency, domain.StoreCurrency) {
		log.WarnContext(ctx, "ignoring payment webhook in foreign currency", slog.String("currency", currency))
		return &Result{Status: OutcomeSkipped, Message: "unsupported currency"}, nil
	}

	to, ok := domain.PaymentStatusFromProcessor(obj.Status)
	if !ok {
		log.WarnContext(ctx, "unknown processor payment status", slog.String("processor_status", obj.Status))
		return &Result{Status: OutcomeSkipped, Message: "unknown payment status"}, nil
	}

	changed, err := r.payments.ApplyPaymentStatus(ctx, payment, to, raw)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			log.InfoContext(ctx, "webhook transition not allowed",
				slog.String("status", string(payment.Status)),
				slog.String("wanted", string(to)),
			)
			return &Result{Status: OutcomeSkipped, Message: err.Error()}, nil
		}
		return nil, err
	}
	if !changed {
		return &Result{Status: OutcomeSkipped, Message: "payment already " + string(payment.Status)}, nil
	}
	return &Result{Status: OutcomeProcessed, Message: "payment " + string(to)}, nil
}

func (r *Reconciler) handleInvoiceUpdated(ctx context.Context, log *slog.Logger, evt *envelope) (*Result, error) {
	obj := evt.Data.Object.Invoice
	if obj == nil || obj.ID == "" {
		log.WarnContext(ctx, "invoice.updated without invoice object")
		return &Result{Status: OutcomeSkipped, Message: "no invoice in event"}, nil
	}
	log = log.With(slog.String("invoice_id", obj.ID))

	for attempt := 0; attempt < 3; attempt++ {
		order, err := r.store.GetOrderByInvoiceID(ctx, obj.ID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				log.InfoContext(ctx, "webhook for unknown invoice")
				return &Result{Status: OutcomeSkipped, Message: "unknown invoice", unmatched: true}, nil
			}
			return nil, fmt.Errorf("get order by invoice: %w", err)
		}

		target, mapped := domain.OrderStatusFromInvoice(obj.Status)
		move := mapped && order.Status != target && order.Status.CanTransitionTo(target)
		if mapped && !move && order.Status != target {
			log.InfoContext(ctx, "invoice transition not allowed",
				slog.String("order_id", order.ID),
				slog.String("status", string(order.Status)),
				slog.String("wanted", string(target)),
			)
		}
		if !move && order.InvoiceStatus == obj.Status {
			return &Result{Status: OutcomeSkipped, Message: "order already " + string(order.Status)}, nil
		}

		err = r.store.WithinTx(ctx, func(tx repository.Tx) error {
			if err := tx.UpdateOrderInvoiceStatus(ctx, order.ID, obj.Status); err != nil {
				return err
			}
			if move {
				return tx.UpdateOrderStatus(ctx, order.ID, order.Status, target)
			}
			return nil
		})
		if errors.Is(err, repository.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply invoice update: %w", err)
		}

		if !move {
			return &Result{Status: OutcomeProcessed, Message: "invoice status recorded"}, nil
		}
		log.InfoContext(ctx, "order status changed from invoice",
			slog.String("order_id", order.ID),
			slog.String("from", string(order.Status)),
			slog.String("to", string(target)),
		)
		return &Result{Status: OutcomeProcessed, Message: "order " + string(target)}, nil
	}
	return nil, fmt.Errorf("apply invoice update: %w", repository.ErrStaleStatus)
}

// alreadySeen consults the event log. Lookup failures fall through to
// normal processing.
func (r *Reconciler) alreadySeen(ctx context.Context, log *slog.Logger, eventID string) bool {
	if r.seen == nil || eventID == "" {
		return false
	}
	seen, err := r.seen.IsProcessed(ctx, eventID)
	if err != nil {
		log.WarnContext(ctx, "webhook event log lookup failed", slog.String("error", err.Error()))
		return false
	}
	if seen {
		log.InfoContext(ctx, "duplicate webhook delivery")
	}
	return seen
}

func (r *Reconciler) markSeen(ctx context.Context, log *slog.Logger, eventID string) {
	if r.seen == nil || eventID == "" {
		return
	}
	if err := r.seen.MarkProcessed(ctx, eventID); err != nil {
		log.WarnContext(ctx, "webhook event log write failed", slog.String("error", err.Error()))
	}
}
