package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront-payments/pkg/logger"
)

func newTestLogger(w *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("test-svc", "debug", w)
}

// logLines decodes every JSON record written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := logLines(t, buf)
	require.NotEmpty(t, lines)
	return lines[len(lines)-1]
}

// --- RequestLogger ---

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = logger.WithCorrelationID(ctx, "corr-123")

	handler := RequestLogger(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "203.0.113.9", logger.ClientIPFromContext(r.Context()))
		logger.FromContext(r.Context()).Info("authorizing")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/payments/authorize", nil).WithContext(ctx)
	req.RemoteAddr = "203.0.113.9:52311"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := lastLine(t, &buf)
	assert.Equal(t, "authorizing", line["msg"])
	assert.Equal(t, "corr-123", line["correlation_id"])
	assert.Equal(t, "203.0.113.9", line["client_ip"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", line["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", line["span_id"])
}

func TestRequestLogger_BehindRealIP(t *testing.T) {
	var buf bytes.Buffer

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(newTestLogger(&buf)))
	r.Post("/api/payments/authorize", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("authorizing")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payments/authorize", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.23")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.23", lastLine(t, &buf)["client_ip"])
}

func TestRequestLogger_NoRemoteAddr(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestLogger(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("x")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, lastLine(t, &buf), "client_ip")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"host and port", "192.0.2.1:1234", "192.0.2.1"},
		{"bare ip", "192.0.2.2", "192.0.2.2"},
		{"ipv6", "[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

// --- RequestLogging ---

func loggedRouter(buf *bytes.Buffer, status int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestLogging(newTestLogger(buf)))
	h := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}
	r.Get("/api/admin/payments/{paymentId}", h)
	r.Get("/health/live", h)
	return r
}

func TestRequestLogging_AccessLine(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/payments/P1", nil)
	req.Header.Set(HeaderCorrelationID, "upstream-7")
	loggedRouter(&buf, http.StatusOK).ServeHTTP(rec, req)

	assert.Equal(t, "upstream-7", rec.Header().Get(HeaderCorrelationID))

	line := lastLine(t, &buf)
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "/api/admin/payments/{paymentId}", line["route"])
	assert.EqualValues(t, 200, line["status"])
	assert.EqualValues(t, 2, line["bytes"])
	assert.Equal(t, "upstream-7", line["correlation_id"])
}

func TestRequestLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		path   string
		status int
		level  string
	}{
		{"/api/admin/payments/P1", http.StatusNotFound, "WARN"},
		{"/api/admin/payments/P1", http.StatusBadGateway, "ERROR"},
		{"/health/live", http.StatusOK, "DEBUG"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			loggedRouter(&buf, tt.status).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.level, lastLine(t, &buf)["level"])
		})
	}
}

func TestRequestLogging_ReplacesUnsafeCorrelationID(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", maxCorrelationIDLen+1)} {
		var buf bytes.Buffer
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/payments/P1", nil)
		req.Header.Set(HeaderCorrelationID, bad)

		loggedRouter(&buf, http.StatusOK).ServeHTTP(rec, req)

		got := rec.Header().Get(HeaderCorrelationID)
		assert.NotEqual(t, bad, got)
		assert.Len(t, got, 36)
	}
}
