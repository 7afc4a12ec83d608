// Package tracker counts payment authorization failures per client IP and
// per order so repeated failures can drive alerting.
package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultThreshold is the failure count at which ThresholdHit turns on.
const DefaultThreshold = 5

// Counts is a snapshot of both counters for one IP/order pair.
type Counts struct {
	IP           int  `json:"ipFailures"`
	Order        int  `json:"orderFailures"`
	ThresholdHit bool `json:"thresholdHit"`
}

// FailureTracker holds process-local failure counters. It never blocks a
// request; callers decide what to do with ThresholdHit.
type FailureTracker struct {
	mu        sync.Mutex
	byIP      map[string]int
	byOrder   map[string]int
	threshold int
	logger    *slog.Logger

	failures *prometheus.CounterVec
	alerts   *prometheus.CounterVec
}

// New creates a tracker that signals once a counter reaches threshold.
// Metrics are registered with reg; pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(threshold int, logger *slog.Logger, reg prometheus.Registerer) *FailureTracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	factory := promauto.With(reg)

	return &FailureTracker{
		byIP:      make(map[string]int),
		byOrder:   make(map[string]int),
		threshold: threshold,
		logger:    logger,
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_failures_total",
			Help: "Payment authorization failures by reason.",
		}, []string{"reason"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_failure_alerts_total",
			Help: "Times a failure counter reached the alert threshold, by key type.",
		}, []string{"key"}),
	}
}

// RecordFailure increments both counters and returns the new values. An
// empty ip or orderID leaves that counter untouched.
func (t *FailureTracker) RecordFailure(ctx context.Context, ip, orderID, reason string) Counts {
	t.failures.WithLabelValues(reason).Inc()

	t.mu.Lock()
	if ip != "" {
		t.byIP[ip]++
	}
	if orderID != "" {
		t.byOrder[orderID]++
	}
	c := t.countsLocked(ip, orderID)
	t.mu.Unlock()

	crossedIP := ip != "" && c.IP == t.threshold
	crossedOrder := orderID != "" && c.Order == t.threshold
	if crossedIP {
		t.alerts.WithLabelValues("ip").Inc()
	}
	if crossedOrder {
		t.alerts.WithLabelValues("order").Inc()
	}
	if crossedIP || crossedOrder {
		t.logger.WarnContext(ctx, "payment failure threshold reached",
			slog.String("client_ip", ip),
			slog.String("order_id", orderID),
			slog.Int("ip_failures", c.IP),
			slog.Int("order_failures", c.Order),
			slog.Int("threshold", t.threshold),
			slog.String("reason", reason),
		)
	}

	return c
}

// Reset clears the counters for ip and orderID after a successful payment.
func (t *FailureTracker) Reset(ip, orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byIP, ip)
	delete(t.byOrder, orderID)
}

// Counts returns the current counters without changing them.
func (t *FailureTracker) Counts(ip, orderID string) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countsLocked(ip, orderID)
}

// ResetAll clears every counter.
func (t *FailureTracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byIP = make(map[string]int)
	t.byOrder = make(map[string]int)
}

// Threshold returns the configured alert threshold.
func (t *FailureTracker) Threshold() int {
	return t.threshold
}

func (t *FailureTracker) countsLocked(ip, orderID string) Counts {
	c := Counts{IP: t.byIP[ip], Order: t.byOrder[orderID]}
	c.ThresholdHit = c.IP >= t.threshold || c.Order >= t.threshold
	return c
}
