package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_token_requests_total",
			Help: "Total number of token endpoint requests by grant type and outcome",
		},
		[]string{"grant_type", "outcome"},
	)

	TokenHTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_http_requests_total",
			Help: "Total number of HTTP requests served by the token service",
		},
		[]string{"method", "path"},
	)

	TokenHTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oauth_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	TokenHTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oauth_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ClientValidationRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_client_validation_rejected_total",
			Help: "Total number of token requests rejected during client validation",
		},
		[]string{"reason"},
	)

	RefreshTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_tokens_issued_total",
			Help: "Total number of refresh tokens issued",
		},
		[]string{"grant_type"},
	)

	RefreshTokensRotated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_rotated_total",
			Help: "Total number of refresh tokens replaced by a newer token for the same client and subject",
		},
	)

	RefreshTokensReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_replayed_total",
			Help: "Total number of refresh grants presenting a token that was already rotated",
		},
	)

	RefreshTokensRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_revoked_total",
			Help: "Total number of refresh tokens revoked",
		},
	)

	RefreshTokensExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_expired_total",
			Help: "Total number of expired refresh tokens presented",
		},
	)

	RefreshTokensCleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_cleanup_deleted_total",
			Help: "Total number of expired refresh tokens deleted during cleanup",
		},
	)

	AccessTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
	)

	TokenLockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_token_lock_wait_seconds",
			Help:    "Time spent waiting for the per client and subject issuance lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	TokenLockFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_token_lock_failures_total",
			Help: "Total number of failed issuance lock acquisitions",
		},
		[]string{"backend"},
	)
)
