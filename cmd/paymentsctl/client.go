package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/utafrali/storefront-payments/pkg/httpclient"
	"github.com/utafrali/storefront-payments/pkg/httputil"
)

// adminClient calls the service's /api/admin endpoints.
type adminClient struct {
	baseURL string
	token   string
	http    *httpclient.Client
}

func newAdminClient(baseURL, token string, timeout time.Duration) *adminClient {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	return &adminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpclient.New(cfg),
	}
}

// apiError is a non-2xx reply from the service.
type apiError struct {
	Status int
	Resp   httputil.ErrorResponse
}

func (e *apiError) Error() string {
	msg := e.Resp.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Resp.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Resp.Code, msg)
	}
	return fmt.Sprintf("%d: %s", e.Status, msg)
}

// call sends payload (if any) to path and returns the raw JSON reply.
func (c *adminClient) call(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Resp)
		return nil, apiErr
	}
	return raw, nil
}

func (c *adminClient) capture(ctx context.Context, paymentID, action string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, "/api/admin/payments/"+paymentID+"/capture", map[string]string{"action": action})
}

func (c *adminClient) refund(ctx context.Context, paymentID string, amountCents *int64, reason string) (json.RawMessage, error) {
	payload := struct {
		AmountCents *int64 `json:"amountCents,omitempty"`
		Reason      string `json:"reason,omitempty"`
	}{amountCents, reason}
	return c.call(ctx, http.MethodPost, "/api/admin/payments/"+paymentID+"/refund", payload)
}

func (c *adminClient) payment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "/api/admin/payments/"+paymentID, nil)
}

func (c *adminClient) orderPayments(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "/api/admin/orders/"+orderID+"/payments", nil)
}
