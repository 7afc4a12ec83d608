package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront-payments/internal/service"
	"github.com/utafrali/storefront-payments/internal/webhook"
	"github.com/utafrali/storefront-payments/pkg/health"
	"github.com/utafrali/storefront-payments/pkg/middleware"
)

// RouterConfig holds the optional HTTP surface settings.
type RouterConfig struct {
	ServiceName string
	// AdminToken, when set, is required as a bearer token on /api/admin.
	AdminToken string
	// CORSOrigins are the storefront origins allowed to call authorize.
	CORSOrigins []string
	// PprofCIDRs enables /debug/pprof for callers in these ranges.
	PprofCIDRs []string
	// AuthorizeRPS and AuthorizeBurst throttle authorize per client IP.
	// Zero disables the limit.
	AuthorizeRPS   float64
	AuthorizeBurst int
	// Registerer receives the HTTP metrics. Nil means the default registry.
	Registerer prometheus.Registerer
}

// NewRouter creates a chi router with all payment routes registered.
func NewRouter(
	cfg RouterConfig,
	paymentService *service.PaymentService,
	reconciler *webhook.Reconciler,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(middleware.NewHTTPMetrics(reg, cfg.ServiceName)))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	payments := NewPaymentHandler(paymentService, logger)
	webhooks := NewWebhookHandler(reconciler, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)

		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins}))
			r.Use(ContentTypeJSON)
			r.With(middleware.RateLimit(cfg.AuthorizeRPS, cfg.AuthorizeBurst, logger)).
				Post("/payments/authorize", payments.Authorize)
			r.Options("/payments/authorize", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		})

		r.Post("/webhooks/square", webhooks.Handle)

		r.Route("/admin", func(r chi.Router) {
			if cfg.AdminToken != "" {
				r.Use(middleware.AdminToken(cfg.AdminToken))
			}
			r.Use(ContentTypeJSON)

			r.Get("/payments/{paymentId}", payments.GetPayment)
			r.Post("/payments/{paymentId}/capture", payments.Capture)
			r.Post("/payments/{paymentId}/refund", payments.Refund)
			r.Get("/orders/{orderId}/payments", payments.ListOrderPayments)
		})
	})

	return r
}
