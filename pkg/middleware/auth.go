package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront-payments/pkg/errors"
	"github.com/utafrali/storefront-payments/pkg/httputil"
)

// AdminToken rejects requests that do not carry "Authorization: Bearer
// <token>". It guards operator endpoints when the service is reachable
// without the storefront gateway in front of it.
func AdminToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing bearer token"), nil)
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid admin token"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
