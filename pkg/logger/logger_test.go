package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("payments-service", "info", &buf).Info("started")

	out := decode(t, &buf)
	assert.Equal(t, "payments-service", out["service"])
	assert.Equal(t, "started", out["msg"])
	assert.NotContains(t, out, "source")
}

func TestNewWithWriter_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("payments-service", "debug", &buf).Debug("probe")

	assert.Contains(t, decode(t, &buf), "source")
}

func TestNewWithWriter_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("payments-service", "info", &buf)

	l.Info("authorize request",
		slog.String("source_id", "cnon:card-nonce-ok"),
		slog.String("Authorization", "Bearer EAAA-secret"),
		slog.String("signature", "q9uTxQ=="),
		slog.String("order_id", "O1"),
	)

	out := decode(t, &buf)
	assert.Equal(t, Redacted, out["source_id"])
	assert.Equal(t, Redacted, out["Authorization"])
	assert.Equal(t, Redacted, out["signature"])
	assert.Equal(t, "O1", out["order_id"])
	assert.NotContains(t, buf.String(), "cnon:card-nonce-ok")
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() context.Context
		want    map[string]string
		missing []string
	}{
		{
			name:    "empty context",
			ctx:     context.Background,
			missing: []string{"correlation_id", "client_ip", "trace_id", "span_id"},
		},
		{
			name: "correlation and client ip",
			ctx: func() context.Context {
				ctx := WithCorrelationID(context.Background(), "req-123")
				return WithClientIP(ctx, "203.0.113.7")
			},
			want:    map[string]string{"correlation_id": "req-123", "client_ip": "203.0.113.7"},
			missing: []string{"trace_id", "span_id"},
		},
		{
			name: "all fields",
			ctx: func() context.Context {
				ctx := WithCorrelationID(spanContext(t), "corr-all")
				return WithClientIP(ctx, "198.51.100.1")
			},
			want: map[string]string{
				"correlation_id": "corr-all",
				"client_ip":      "198.51.100.1",
				"trace_id":       "4bf92f3577b34da6a3ce929d0e0e4736",
				"span_id":        "00f067aa0ba902b7",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			WithContext(tt.ctx(), NewWithWriter("test", "info", &buf)).Info("x")

			out := decode(t, &buf)
			for k, v := range tt.want {
				assert.Equal(t, v, out[k], k)
			}
			for _, k := range tt.missing {
				assert.NotContains(t, out, k)
			}
		})
	}
}

func TestWithContext_NothingToAdd(t *testing.T) {
	l := NewWithWriter("test", "info", &bytes.Buffer{})
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestFromContext(t *testing.T) {
	l := NewWithWriter("test", "info", &bytes.Buffer{})
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestContextValues_Empty(t *testing.T) {
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, ClientIPFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
