package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/utafrali/storefront-payments/pkg/httputil"
)

// RegisterPprof mounts chi's profiler (pprof and expvar) under /debug,
// reachable only from allowedCIDRs.
func RegisterPprof(r chi.Router, allowedCIDRs []string, logger *slog.Logger) {
	r.With(IPAllowlist(allowedCIDRs, logger)).Mount("/debug", chimw.Profiler())
}

// IPAllowlist admits only callers whose ClientIP is inside one of the CIDR
// entries. Unparsable entries are logged and skipped, so an empty or
// all-invalid list denies everyone.
func IPAllowlist(entries []string, logger *slog.Logger) func(http.Handler) http.Handler {
	prefixes := parsePrefixes(entries, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !allowed(prefixes, ip) {
				logger.WarnContext(r.Context(), "request outside IP allowlist",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{
					Error: "access restricted by IP allowlist",
					Code:  "FORBIDDEN",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parsePrefixes(entries []string, logger *slog.Logger) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := netip.ParsePrefix(strings.TrimSpace(e))
		if err != nil {
			logger.Warn("ignoring invalid allowlist entry", slog.String("entry", e), slog.String("error", err.Error()))
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}

func allowed(prefixes []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
