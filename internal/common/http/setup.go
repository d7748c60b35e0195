package http

import (
	"net/http"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	"github.com/AlibekovAA/oauth-token-core/internal/common/httpmetrics"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
)

// BuildBaseHandler wraps handler with the middleware every endpoint shares.
// Outermost first: security headers, trace id, panic recovery, body limit,
// request metrics.
func BuildBaseHandler(log *logger.Logger, handler http.Handler) http.Handler {
	collector := httpmetrics.New()
	recovery := RecoveryMiddleware(log)
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)

	return SecurityHeadersMiddleware(TraceIDMiddleware(recovery(maxRequestSize(collector.Wrap(handler)))))
}
