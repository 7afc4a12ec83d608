package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/utafrali/storefront-payments/pkg/logger"
)

// RequestLogger stores a logger carrying the request's correlation, client
// and trace fields in the context, for handlers to fetch with
// logger.FromContext. It must run after RealIP, RequestLogging and Tracing
// have populated those fields.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ip := ClientIP(r); ip != "" {
				ctx = logger.WithClientIP(ctx, ip)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP is the caller's address without a port. Once RequestLogger has
// run it comes from the context; before that from RemoteAddr, which RealIP
// may have already replaced with a bare forwarded address.
func ClientIP(r *http.Request) string {
	if ip := logger.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
