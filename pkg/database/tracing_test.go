package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, a := range s.Attributes() {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestTraceQuery_RecordsStatement(t *testing.T) {
	rec := recordSpans(t)

	_, end := TraceQuery(context.Background(), "GetPaymentByProviderID", `
		SELECT id, status
		FROM payments
		WHERE provider_payment_id = $1`)
	end(nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.GetPaymentByProviderID", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Equal(t, "GetPaymentByProviderID", attrs["db.operation"])
	assert.Equal(t, "SELECT id, status FROM payments WHERE provider_payment_id = $1", attrs["db.statement"])
}

func TestTraceQuery_Error(t *testing.T) {
	rec := recordSpans(t)

	_, end := TraceQuery(context.Background(), "UpdatePaymentStatus", "UPDATE payments SET status = $1")
	end(errors.New("connection refused"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events())
}

func TestTraceQuery_NestsUnderCaller(t *testing.T) {
	rec := recordSpans(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "capture")
	_, end := TraceQuery(ctx, "CreateRefund", "INSERT INTO refunds")
	end(nil)
	parent.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "db.CreateRefund", spans[0].Name())
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	recordSpans(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	tests := []struct {
		name      string
		threshold time.Duration
		err       error
		wantLog   bool
	}{
		{"over threshold", time.Nanosecond, nil, true},
		{"over threshold with error", time.Nanosecond, errors.New("unique constraint violation"), true},
		{"under threshold", time.Hour, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetSlowQueryLogging(tt.threshold, slog.New(slog.NewJSONHandler(&buf, nil)))

			_, end := TraceQuery(context.Background(), "ListPaymentsByOrder", "SELECT *\n  FROM payments")
			end(tt.err)

			if !tt.wantLog {
				assert.Empty(t, buf.String())
				return
			}
			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, "slow query", line["msg"])
			assert.Equal(t, "WARN", line["level"])
			assert.Equal(t, "ListPaymentsByOrder", line["operation"])
			assert.Equal(t, "SELECT * FROM payments", line["statement"])
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), line["error"])
			}
		})
	}
}

func TestSetSlowQueryLogging_Disable(t *testing.T) {
	SetSlowQueryLogging(time.Second, slog.Default())
	require.NotNil(t, slowQueries.Load())

	SetSlowQueryLogging(0, slog.Default())
	assert.Nil(t, slowQueries.Load())

	SetSlowQueryLogging(time.Second, nil)
	assert.Nil(t, slowQueries.Load())

	_, end := TraceQuery(context.Background(), "GetOrder", "SELECT 1")
	assert.NotPanics(t, func() { end(nil) })
}
