package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/service"
	"github.com/utafrali/storefront-payments/pkg/httputil"
	"github.com/utafrali/storefront-payments/pkg/middleware"
	"github.com/utafrali/storefront-payments/pkg/validator"
)

// PaymentHandler handles the storefront and admin payment endpoints.
type PaymentHandler struct {
	service *service.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment HTTP handler.
func NewPaymentHandler(svc *service.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AuthorizeRequest is the JSON body the checkout page posts.
type AuthorizeRequest struct {
	SourceID          string `json:"sourceId" validate:"required"`
	OrderID           string `json:"orderId" validate:"required"`
	IdempotencyKey    string `json:"idempotencyKey" validate:"omitempty,idemkey"`
	VerificationToken string `json:"verificationToken"`
}

// CaptureRequest selects capture or cancel for an authorization.
type CaptureRequest struct {
	Action string `json:"action" validate:"required,oneof=capture cancel"`
}

// RefundRequest is the JSON body for a refund. A missing amountCents
// refunds the full payment.
type RefundRequest struct {
	AmountCents *int64 `json:"amountCents"`
	Reason      string `json:"reason" validate:"max=192"`
}

// --- Response DTOs ---

type authorizeResponse struct {
	Success     bool            `json:"success"`
	AlreadyPaid bool            `json:"alreadyPaid,omitempty"`
	PaymentID   string          `json:"paymentId,omitempty"`
	Payment     json.RawMessage `json:"payment,omitempty"`
}

type okResponse struct {
	OK            bool            `json:"ok"`
	Message       string          `json:"message,omitempty"`
	Payment       json.RawMessage `json:"payment,omitempty"`
	Refund        json.RawMessage `json:"refund,omitempty"`
	OrderRefunded bool            `json:"orderRefunded,omitempty"`
}

type paymentsResponse struct {
	Payments []domain.Payment `json:"payments"`
}

// --- Handlers ---

// Authorize handles POST /api/payments/authorize
// @Summary Authorize an order payment
// @Description Reserves the order total on the shopper's card without capturing it.
// @Tags payments
// @Accept json
// @Produce json
// @Param request body AuthorizeRequest true "Card source and order"
// @Success 200 {object} authorizeResponse
// @Failure 400 {object} httputil.ErrorResponse
// @Failure 402 {object} httputil.ErrorResponse
// @Failure 404 {object} httputil.ErrorResponse
// @Failure 409 {object} httputil.ErrorResponse
// @Failure 502 {object} httputil.ErrorResponse
// @Router /api/payments/authorize [post]
func (h *PaymentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req AuthorizeRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	res, err := h.service.Authorize(r.Context(), service.AuthorizeInput{
		SourceID:          req.SourceID,
		OrderID:           req.OrderID,
		IdempotencyKey:    req.IdempotencyKey,
		VerificationToken: req.VerificationToken,
		ClientIP:          middleware.ClientIP(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if res.AlreadyPaid {
		httputil.WriteJSON(w, http.StatusOK, authorizeResponse{Success: true, AlreadyPaid: true})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, authorizeResponse{
		Success:   true,
		PaymentID: res.ProviderPaymentID,
		Payment:   res.Raw,
	})
}

// Capture handles POST /api/admin/payments/{paymentId}/capture
// @Summary Capture or cancel an authorization
// @Tags admin
// @Accept json
// @Produce json
// @Param paymentId path string true "Processor payment ID"
// @Param request body CaptureRequest true "capture or cancel"
// @Success 200 {object} okResponse
// @Failure 400 {object} httputil.ErrorResponse
// @Failure 404 {object} httputil.ErrorResponse
// @Router /api/admin/payments/{paymentId}/capture [post]
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CaptureRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	res, err := h.service.Capture(r.Context(), chi.URLParam(r, "paymentId"), service.CaptureAction(req.Action))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, okResponse{OK: true, Message: res.Message, Payment: res.Raw})
}

// Refund handles POST /api/admin/payments/{paymentId}/refund
// @Summary Refund a captured payment
// @Tags admin
// @Accept json
// @Produce json
// @Param paymentId path string true "Processor payment ID"
// @Param request body RefundRequest false "Amount and reason"
// @Success 200 {object} okResponse
// @Failure 400 {object} httputil.ErrorResponse
// @Failure 404 {object} httputil.ErrorResponse
// @Router /api/admin/payments/{paymentId}/refund [post]
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	// An empty body means a full refund with no reason.
	var req RefundRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	res, err := h.service.Refund(r.Context(), chi.URLParam(r, "paymentId"), service.RefundInput{
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, okResponse{
		OK:            true,
		Refund:        res.Raw,
		OrderRefunded: res.OrderRefunded,
	})
}

// GetPayment handles GET /api/admin/payments/{paymentId}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

// ListOrderPayments handles GET /api/admin/orders/{orderId}/payments
func (h *PaymentHandler) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListOrderPayments(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, paymentsResponse{Payments: payments})
}
