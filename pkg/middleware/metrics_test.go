package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findMetric returns the sample of family name whose labels include want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if got[k] != v {
					match = false
					break
				}
			}
			if match {
				return m
			}
		}
	}
	return nil
}

func metricsRouter(m *HTTPMetrics, h http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics(m))
	r.Post("/api/admin/payments/{paymentId}/refund", h)
	return r
}

func TestPrometheusMetrics_LabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metricsRouter(NewHTTPMetrics(reg, "payments"), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"P1", "P2", "P3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/admin/payments/"+id+"/refund", nil))
	}

	m := findMetric(t, reg, "http_requests_total", map[string]string{
		"service": "payments",
		"method":  "POST",
		"route":   "/api/admin/payments/{paymentId}/refund",
		"status":  "200",
	})
	require.NotNil(t, m)
	assert.Equal(t, float64(3), m.GetCounter().GetValue())

	h := findMetric(t, reg, "http_request_duration_seconds", map[string]string{"status": "200"})
	require.NotNil(t, h)
	assert.Equal(t, uint64(3), h.GetHistogram().GetSampleCount())
}

func TestPrometheusMetrics_CapturesStatus(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status string
	}{
		{"explicit 402", func(w http.ResponseWriter) { w.WriteHeader(http.StatusPaymentRequired) }, "402"},
		{"implicit 200", func(w http.ResponseWriter) { _, _ = w.Write([]byte("{}")) }, "200"},
		{"first header wins", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadGateway)
			w.WriteHeader(http.StatusOK)
		}, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			r := metricsRouter(NewHTTPMetrics(reg, "payments"), func(w http.ResponseWriter, _ *http.Request) {
				tt.write(w)
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/admin/payments/P1/refund", nil))

			assert.NotNil(t, findMetric(t, reg, "http_requests_total", map[string]string{"status": tt.status}))
		})
	}
}

func TestPrometheusMetrics_InFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	var during float64
	r := metricsRouter(NewHTTPMetrics(reg, "payments"), func(w http.ResponseWriter, _ *http.Request) {
		if m := findMetric(t, reg, "http_requests_in_flight", nil); m != nil {
			during = m.GetGauge().GetValue()
		}
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/admin/payments/P1/refund", nil))

	assert.Equal(t, float64(1), during)
	after := findMetric(t, reg, "http_requests_in_flight", nil)
	require.NotNil(t, after)
	assert.Equal(t, float64(0), after.GetGauge().GetValue())
}

func TestNewHTTPMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewHTTPMetrics(reg, "payments")
	second := NewHTTPMetrics(reg, "payments")

	assert.Same(t, first.requests, second.requests)
	assert.Same(t, first.duration, second.duration)
}

func TestStatusRecorder_SharedAcrossMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	outer := record(rec)
	inner := record(outer)

	assert.Same(t, outer, inner)
	assert.Equal(t, rec, outer.Unwrap())
}

func TestRoutePattern_Unmatched(t *testing.T) {
	assert.Equal(t, "unmatched", routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
