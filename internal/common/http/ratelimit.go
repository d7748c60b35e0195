package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	"github.com/AlibekovAA/oauth-token-core/internal/common/httpmetrics"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	cleanup  *time.Ticker
	done     chan struct{}
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		cleanup:  time.NewTicker(constants.RateLimitCleanupInterval),
		done:     make(chan struct{}),
	}

	go rl.cleanupLimiters()

	return rl
}

func (rl *RateLimiter) cleanupLimiters() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanup.C:
			rl.mu.Lock()
			for key, limiter := range rl.limiters {
				if limiter.Tokens() >= float64(rl.burst) {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.cleanup.Stop()
	close(rl.done)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

type StrictRateLimiter struct {
	tokenLimiter    *RateLimiter
	revokeLimiter   *RateLimiter
	sessionsLimiter *RateLimiter
	generalLimiter  *RateLimiter
}

func NewStrictRateLimiter() *StrictRateLimiter {
	return &StrictRateLimiter{
		tokenLimiter:    NewRateLimiter(constants.RateLimitTokenRequestsPerSecond, constants.RateLimitTokenBurst),
		revokeLimiter:   NewRateLimiter(constants.RateLimitRevokeRequestsPerSecond, constants.RateLimitRevokeBurst),
		sessionsLimiter: NewRateLimiter(constants.RateLimitSessionsRequestsPerSecond, constants.RateLimitSessionsBurst),
		generalLimiter:  NewRateLimiter(constants.RateLimitGeneralRequestsPerSecond, constants.RateLimitGeneralBurst),
	}
}

func (srl *StrictRateLimiter) Stop() {
	srl.tokenLimiter.Stop()
	srl.revokeLimiter.Stop()
	srl.sessionsLimiter.Stop()
	srl.generalLimiter.Stop()
}

// limiterFor picks the bucket for a request path. Health and metrics are not
// limited so orchestrators never see a 429.
func (srl *StrictRateLimiter) limiterFor(path string) (*RateLimiter, string) {
	switch {
	case path == "/health" || path == "/metrics":
		return nil, ""
	case path == "/oauth/token":
		return srl.tokenLimiter, "token"
	case path == "/oauth/revoke":
		return srl.revokeLimiter, "revoke"
	case path == "/oauth/sessions" || strings.HasPrefix(path, "/oauth/sessions/"):
		return srl.sessionsLimiter, "sessions"
	default:
		return srl.generalLimiter, "general"
	}
}

// Middleware applies the per-endpoint limit keyed by client IP.
func (srl *StrictRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, name := srl.limiterFor(r.URL.Path)
		if limiter != nil && !limiter.Allow(GetClientIP(r)) {
			metrics.RateLimitBlocked.WithLabelValues(httpmetrics.NormalizePath(r.URL.Path), name).Inc()
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, CodeTemporarilyUnavailable, "Too many requests, retry later")
			return
		}

		next.ServeHTTP(w, r)
	})
}
