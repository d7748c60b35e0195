package http

import (
	"net/http"
	"runtime/debug"

	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
)

func RecoveryMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.WithFields(r.Context(), logger.Fields{
						"path":   r.URL.Path,
						"method": r.Method,
						"action": "panic_recovered",
					}).Criticalf("panic recovered: %v\n%s", rec, debug.Stack())
					WriteErrorEnvelope(w, http.StatusInternalServerError, ErrorEnvelope{
						Error:       CodeServerError,
						Description: serverErrorDescription,
						TraceID:     getTraceIDFromContext(r.Context()),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
