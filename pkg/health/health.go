package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// DefaultTimeout bounds one readiness probe.
const DefaultTimeout = 5 * time.Second

// Response is the JSON body returned by the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type dependency struct {
	name     string
	check    Checker
	critical bool
}

// Handler serves liveness and readiness. The ledger database is critical:
// when it fails readiness answers 503. Redis and Kafka are not; their
// failure reports "degraded" with a 200.
type Handler struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	timeout time.Duration
}

// NewHandler creates a handler with no dependencies registered.
func NewHandler() *Handler {
	return &Handler{deps: make(map[string]dependency), timeout: DefaultTimeout}
}

// RegisterCritical adds a dependency whose failure makes the service unready.
// Registering a name twice replaces the earlier checker.
func (h *Handler) RegisterCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check, critical: true})
}

// RegisterNonCritical adds a dependency whose failure only degrades readiness.
func (h *Handler) RegisterNonCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check})
}

func (h *Handler) add(d dependency) {
	h.mu.Lock()
	h.deps[d.name] = d
	h.mu.Unlock()
}

// LivenessHandler reports up for as long as the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusOK, Response{Status: StatusUp, Timestamp: time.Now().UTC()})
	}
}

// ReadinessHandler probes every dependency within the handler timeout.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		resp := h.Check(ctx)
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, resp)
	}
}

// Check probes all dependencies concurrently and folds the results.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	deps := make([]dependency, 0, len(h.deps))
	for _, d := range h.deps {
		deps = append(deps, d)
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = probe(ctx, d)
		}()
	}
	wg.Wait()

	resp := Response{Status: StatusUp, Timestamp: time.Now().UTC(), Checks: make(map[string]CheckResult, len(deps))}
	for i, d := range deps {
		res := results[i]
		resp.Checks[d.name] = res
		switch {
		case res.Status == StatusUp:
		case res.Critical:
			resp.Status = StatusDown
		case resp.Status == StatusUp:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func probe(ctx context.Context, d dependency) CheckResult {
	start := time.Now()
	err := d.check(ctx)
	res := CheckResult{Status: StatusUp, Critical: d.critical, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

func writeResponse(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
