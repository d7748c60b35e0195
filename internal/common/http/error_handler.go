package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/httpmetrics"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

const serverErrorDescription = "The authorization server encountered an unexpected condition"

type ErrorHandler struct {
	log *logger.Logger
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	return &ErrorHandler{log: log}
}

// HandleError writes err as an OAuth error body. Domain errors below 500 keep
// their code and message; everything else is logged and reported as
// server_error so internals never reach the client.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	ctx := r.Context()
	traceID := getTraceIDFromContext(ctx)

	domainErr, ok := commonerrors.AsDomainError(err)
	if ok && domainErr.HTTPStatus() < http.StatusInternalServerError {
		h.handleDomainError(w, r, domainErr, traceID)
		return
	}

	logFields := logger.Fields{
		"error":  err.Error(),
		"path":   r.URL.Path,
		"action": "server_error",
	}
	if ok {
		logFields["error_code"] = domainErr.Code()
		logFields["category"] = string(domainErr.Category())
	}
	h.log.WithFields(ctx, logFields).Errorf("request failed: %v", err)

	h.count(r, http.StatusInternalServerError)
	WriteErrorEnvelope(w, http.StatusInternalServerError, ErrorEnvelope{
		Error:       CodeServerError,
		Description: serverErrorDescription,
		TraceID:     traceID,
	})
}

func (h *ErrorHandler) handleDomainError(w http.ResponseWriter, r *http.Request, err commonerrors.DomainError, traceID string) {
	if traceID != "" && err.TraceID() == "" {
		err = err.WithTraceID(traceID)
	}
	status := err.HTTPStatus()

	if h.log.ShouldLog(logger.DEBUG) {
		h.log.WithFields(r.Context(), logger.Fields{
			"error_code": err.Code(),
			"category":   string(err.Category()),
			"status":     status,
			"action":     "domain_error",
		}).Debugf("domain error: %s", err.Error())
	}

	metrics.DomainErrorsTotal.WithLabelValues(
		string(err.Category()),
		err.Code(),
		strconv.Itoa(status),
	).Inc()
	h.count(r, status)

	WriteErrorEnvelope(w, status, ErrorEnvelope{
		Error:       err.Code(),
		Description: err.Message(),
		TraceID:     err.TraceID(),
	})
}

func (h *ErrorHandler) count(r *http.Request, status int) {
	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(status),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()
}

func HandleError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	NewErrorHandler(log).HandleError(w, r, err)
}

func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(constants.TraceIDKey).(string)
	return traceID
}
