package http

import (
	"net/http"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
)

// MaxRequestSizeMiddleware caps request bodies. Token and revoke requests are
// small urlencoded forms, so anything beyond maxBytes is rejected up front or
// fails ParseForm once the reader hits the limit.
func MaxRequestSizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = constants.DefaultMaxRequestSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
