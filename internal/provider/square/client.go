// Package square is a Processor Gateway for the Square Payments API.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/storefront-payments/internal/domain"
	"github.com/utafrali/storefront-payments/internal/provider"
	"github.com/utafrali/storefront-payments/pkg/httpclient"
)

// DelayActionCancel asks the processor to void an authorization that is not
// captured within its default delay window.
const DelayActionCancel = "CANCEL"

// Config holds the processor account settings.
type Config struct {
	BaseURL     string
	AccessToken string
	APIVersion  string
	LocationID  string
}

// Doer sends HTTP requests; *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to a Square-compatible payments API.
type Client struct {
	cfg    Config
	http   Doer
	logger *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a processor client that sends requests through doer.
func NewClient(cfg Config, doer Doer, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: doer, logger: logger}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return domain.ProviderSquare
}

type createPaymentRequest struct {
	SourceID          string         `json:"source_id"`
	IdempotencyKey    string         `json:"idempotency_key"`
	AmountMoney       provider.Money `json:"amount_money"`
	Autocomplete      bool           `json:"autocomplete"`
	DelayAction       string         `json:"delay_action,omitempty"`
	ReferenceID       string         `json:"reference_id,omitempty"`
	LocationID        string         `json:"location_id,omitempty"`
	VerificationToken string         `json:"verification_token,omitempty"`
}

type createRefundRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	PaymentID      string         `json:"payment_id"`
	AmountMoney    provider.Money `json:"amount_money"`
	Reason         string         `json:"reason,omitempty"`
}

type paymentEnvelope struct {
	Payment json.RawMessage `json:"payment"`
}

type refundEnvelope struct {
	Refund json.RawMessage `json:"refund"`
}

type paymentObject struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	AmountMoney provider.Money `json:"amount_money"`
	ReceiptURL  string         `json:"receipt_url"`
	CardDetails struct {
		Card struct {
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
		} `json:"card"`
	} `json:"card_details"`
}

type refundObject struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	AmountMoney provider.Money `json:"amount_money"`
}

type errorBody struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

// Authorize creates a payment with autocomplete disabled.
func (c *Client) Authorize(ctx context.Context, input *provider.AuthorizeInput) (*provider.PaymentResult, error) {
	req := createPaymentRequest{
		SourceID:          input.SourceID,
		IdempotencyKey:    input.IdempotencyKey,
		AmountMoney:       input.Amount,
		Autocomplete:      false,
		DelayAction:       DelayActionCancel,
		ReferenceID:       input.ReferenceID,
		LocationID:        c.cfg.LocationID,
		VerificationToken: input.VerificationToken,
	}

	var env paymentEnvelope
	if err := c.post(ctx, "/v2/payments", req, &env, false); err != nil {
		return nil, err
	}
	return decodePayment(env.Payment)
}

// Complete captures an authorized payment.
func (c *Client) Complete(ctx context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	var env paymentEnvelope
	if err := c.post(ctx, "/v2/payments/"+url.PathEscape(providerPaymentID)+"/complete", struct{}{}, &env, true); err != nil {
		return nil, err
	}
	return decodePayment(env.Payment)
}

// Cancel voids an authorized payment.
func (c *Client) Cancel(ctx context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	var env paymentEnvelope
	if err := c.post(ctx, "/v2/payments/"+url.PathEscape(providerPaymentID)+"/cancel", struct{}{}, &env, true); err != nil {
		return nil, err
	}
	return decodePayment(env.Payment)
}

// Refund refunds part or all of a completed payment.
func (c *Client) Refund(ctx context.Context, input *provider.RefundInput) (*provider.RefundResult, error) {
	req := createRefundRequest{
		IdempotencyKey: input.IdempotencyKey,
		PaymentID:      input.ProviderPaymentID,
		AmountMoney:    input.Amount,
		Reason:         input.Reason,
	}

	var env refundEnvelope
	if err := c.post(ctx, "/v2/refunds", req, &env, true); err != nil {
		return nil, err
	}

	var obj refundObject
	if err := json.Unmarshal(env.Refund, &obj); err != nil || obj.ID == "" {
		return nil, fmt.Errorf("%w: refund response missing refund object", provider.ErrUnavailable)
	}
	return &provider.RefundResult{
		ID:     obj.ID,
		Status: obj.Status,
		Amount: obj.AmountMoney,
		Raw:    env.Refund,
	}, nil
}

// post sends payload and decodes the response into out. With passthrough
// set, a server error is returned as *provider.Error whatever its body.
func (c *Client) post(ctx context.Context, path string, payload, out any, passthrough bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal processor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create processor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", c.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var respErr *httpclient.ResponseError
		if errors.As(err, &respErr) {
			return c.parseError(ctx, path, respErr.StatusCode, respErr.Body, passthrough)
		}
		c.logger.WarnContext(ctx, "processor request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
	}

	data, err := httpclient.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.parseError(ctx, path, resp.StatusCode, data, passthrough)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode processor response: %w", provider.ErrUnavailable, err)
	}
	return nil
}

// parseError turns an error response into *provider.Error. Unless
// passthrough is set, a 5xx without a structured body counts as the
// processor being unavailable. A body that is not JSON is kept as a JSON
// string.
func (c *Client) parseError(ctx context.Context, path string, status int, body []byte, passthrough bool) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	if !passthrough && len(eb.Errors) == 0 && status >= http.StatusInternalServerError {
		c.logger.WarnContext(ctx, "processor returned unstructured server error",
			slog.String("path", path),
			slog.Int("status", status),
		)
		return fmt.Errorf("%w: status %d", provider.ErrUnavailable, status)
	}

	perr := &provider.Error{Status: status}
	switch {
	case json.Valid(body):
		perr.Body = json.RawMessage(body)
	case len(body) > 0:
		perr.Body, _ = json.Marshal(string(body))
	}
	if len(eb.Errors) > 0 {
		perr.Category = eb.Errors[0].Category
		perr.Code = eb.Errors[0].Code
		perr.Detail = eb.Errors[0].Detail
	}

	c.logger.InfoContext(ctx, "processor rejected request",
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("code", perr.Code),
	)
	return perr
}

func decodePayment(raw json.RawMessage) (*provider.PaymentResult, error) {
	var obj paymentObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return nil, fmt.Errorf("%w: response missing payment object", provider.ErrUnavailable)
	}
	return &provider.PaymentResult{
		ID:         obj.ID,
		Status:     obj.Status,
		Amount:     obj.AmountMoney,
		CardBrand:  obj.CardDetails.Card.CardBrand,
		CardLast4:  obj.CardDetails.Card.Last4,
		ReceiptURL: obj.ReceiptURL,
		Raw:        raw,
	}, nil
}
