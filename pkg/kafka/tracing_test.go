package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	c := HeaderCarrier{{Key: HeaderEventType, Value: []byte("payment.captured")}}

	assert.Equal(t, "payment.captured", c.Get(HeaderEventType))
	assert.Empty(t, c.Get("traceparent"))

	c.Set(HeaderEventType, "payment.refunded")
	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "payment.refunded", c.Get(HeaderEventType))
	assert.Equal(t, []string{HeaderEventType, "traceparent"}, c.Keys())
}

func TestHeaderCarrier_Empty(t *testing.T) {
	var c HeaderCarrier
	assert.Empty(t, c.Keys())
	assert.Empty(t, c.Get("anything"))
}

func TestInjectTrace(t *testing.T) {
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

	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("payments-service")}}}
	InjectTrace(ctx, &msg)

	c := HeaderCarrier(msg.Headers)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", c.Get("traceparent"))
	assert.Equal(t, "payments-service", c.Get(HeaderSource))
}

func TestInjectTrace_NoSpan(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var msg kafka.Message
	InjectTrace(context.Background(), &msg)
	assert.Empty(t, msg.Headers)
}
