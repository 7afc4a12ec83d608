package http

import (
	"net/http"
	"strings"

	"github.com/utafrali/storefront-payments/pkg/httputil"
)

// maxBodyBytes caps every request body this service reads.
const maxBodyBytes = 1 << 20

// ContentTypeJSON rejects POST bodies sent with a non-JSON Content-Type.
// A missing header is tolerated for curl-style callers.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.ErrorResponse{
					Error: "Content-Type must be application/json",
					Code:  "UNSUPPORTED_MEDIA_TYPE",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
