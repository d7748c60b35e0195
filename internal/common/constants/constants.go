package constants

import "time"

const (
	RefreshTokenSize       = 32
	MaxSubjectLength       = 50
	UsernameMinLength      = 3
	PasswordMinLength      = 8
	PasswordMaxLength      = 72
	DefaultMaxRequestSize  = 1 << 16
	DefaultIdentityManager = "postgres"

	DefaultTokenHTTPPort = "8080"

	DefaultAccessTokenTTL           = 30 * time.Minute
	DefaultRefreshTokenLifetime     = 7 * 24 * time.Hour
	DefaultRefreshTokenCleanup      = 1 * time.Hour
	DefaultTokenLockTTL             = 10 * time.Second
	DefaultTokenLockRetry           = 25 * time.Millisecond
	DefaultTokenRequestTimeout      = 10 * time.Second
	DefaultCircuitBreakerThreshold  = 50
	DefaultCircuitBreakerTimeout    = 5 * time.Second
	DefaultCircuitBreakerReset      = 10 * time.Second
	DefaultRefreshTokenStoreBackend = "postgres"
	DefaultTokenLockBackend         = "local"

	DBPoolMaxConns        = 25
	DBPoolMinConns        = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = 1 * time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = 1 * time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 30 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second
	ServerMaxHeaderBytes    = 1 << 14

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	RateLimitCleanupInterval           = 5 * time.Minute
	RateLimitTokenRequestsPerSecond    = 5
	RateLimitTokenBurst                = 10
	RateLimitRevokeRequestsPerSecond   = 2
	RateLimitRevokeBurst               = 5
	RateLimitGeneralRequestsPerSecond  = 20
	RateLimitGeneralBurst              = 40
	RateLimitSessionsRequestsPerSecond = 2
	RateLimitSessionsBurst             = 5

	DefaultLogDir    = "/var/log/oauth-token-core"
	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
