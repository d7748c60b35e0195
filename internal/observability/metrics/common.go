package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_rate_limit_blocked_total",
			Help: "Requests rejected by the per-endpoint rate limiter",
		},
		[]string{"path", "limiter"},
	)

	// CircuitBreakerState is 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oauth_circuit_breaker_state",
			Help: "State of the named circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_circuit_breaker_failures_total",
			Help: "Failures counted against the named circuit breaker",
		},
		[]string{"name"},
	)

	DomainErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_domain_errors_total",
			Help: "Domain errors written to clients by category and code",
		},
		[]string{"category", "code", "status"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_http_errors_total",
			Help: "Error responses by status code and route",
		},
		[]string{"status", "path", "method"},
	)
)
