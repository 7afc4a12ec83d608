package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type capturedPayment struct {
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
}

var payAgg = Aggregate{Type: "payment", ID: "PAY1"}

// --- Event ---

func TestNewEvent_Fields(t *testing.T) {
	data := capturedPayment{PaymentID: "PAY1", AmountCents: 2000}
	event, err := NewEvent("payments", "payment.captured", payAgg, data,
		WithCorrelationID("corr-abc"), WithMetadata("order_id", "O1"))
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "payment.captured", event.Type)
	assert.Equal(t, "PAY1", event.AggregateID)
	assert.Equal(t, "payment", event.AggregateType)
	assert.Equal(t, "payments", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, "corr-abc", event.CorrelationID)
	assert.Equal(t, map[string]string{"order_id": "O1"}, event.Metadata)
	assert.WithinDuration(t, time.Now().UTC(), event.OccurredAt, 2*time.Second)

	var got capturedPayment
	require.NoError(t, event.DecodeData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_Rejects(t *testing.T) {
	_, err := NewEvent("payments", "payment.captured", payAgg, make(chan int))
	require.Error(t, err)

	_, err = NewEvent("payments", "payment.captured", Aggregate{Type: "payment"}, nil)
	require.Error(t, err)
}

func TestDecodeEvent(t *testing.T) {
	original, err := NewEvent("payments", "payment.refunded", payAgg, map[string]int64{"amount_cents": 500},
		WithCorrelationID("corr-abc"))
	require.NoError(t, err)

	msg, err := original.message("storefront.payment.refunded")
	require.NoError(t, err)

	restored, err := DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, "corr-abc", restored.CorrelationID)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

func TestDecodeEvent_Invalid(t *testing.T) {
	for _, raw := range []string{`{broken json`, `{"event_type":"payment.captured"}`, `{}`} {
		_, err := DecodeEvent([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestEvent_DecodeData_Empty(t *testing.T) {
	var v map[string]any
	assert.Error(t, (&Event{ID: "e1"}).DecodeData(&v))
}

// --- Topic ---

func TestTopic(t *testing.T) {
	assert.Equal(t, "storefront.payment.authorized", Topic("payment", "authorized"))
	assert.Equal(t, "storefront.payment.canceled", Topic("payment", "canceled"))
}

// --- Producer ---

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"k1:9092", "k2:9092"})
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestProducer_Publish_WritesKeyedMessageWithHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, nil)

	event, err := NewEvent("payments", "payment.authorized", payAgg, capturedPayment{PaymentID: "PAY1"},
		WithCorrelationID("corr-1"))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "storefront.payment.authorized", event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "storefront.payment.authorized", msg.Topic)
	assert.Equal(t, []byte("PAY1"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "payment.authorized", headers["event_type"])
	assert.Equal(t, "payments", headers["source"])
	assert.Equal(t, "corr-1", headers["correlation_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
}

func TestProducer_Publish_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, nil)
	event, err := NewEvent("payments", "payment.captured", payAgg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, "t", event))

	carrier := HeaderCarrier(w.msgs[0].Headers)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
}

func TestProducer_Publish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, nil, nil)

	event, err := NewEvent("payments", "payment.captured", payAgg, nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "storefront.payment.captured", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to storefront.payment.captured")
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, nil)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer_DoesNotConnect(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), nil)
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
