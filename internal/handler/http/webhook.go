package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-payments/internal/webhook"
	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
	"github.com/utafrali/storefront-payments/pkg/httputil"
)

// Signature headers the processor sets on every callback.
const (
	HeaderSignatureSHA256 = "X-Square-Hmacsha256-Signature"
	HeaderSignatureSHA1   = "X-Square-Signature"
)

// WebhookHandler receives processor callbacks.
type WebhookHandler struct {
	reconciler *webhook.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook HTTP handler.
func NewWebhookHandler(reconciler *webhook.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

type webhookResponse struct {
	OK bool `json:"ok"`
	*webhook.Result
}

// Handle handles POST /api/webhooks/square. The body is read raw because
// the signature covers its exact bytes.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, r, apperrors.BadRequest("could not read webhook body"), h.logger)
		return
	}

	res, err := h.reconciler.Handle(r.Context(), webhook.Request{
		Body:            body,
		SignatureSHA256: r.Header.Get(HeaderSignatureSHA256),
		SignatureSHA1:   r.Header.Get(HeaderSignatureSHA1),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, Result: res})
}
