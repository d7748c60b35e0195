package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// RedisLocker is a lease-based KeyedLocker shared by every instance talking
// to the same Redis. A lease that outlives its TTL is released by Redis, so
// the TTL must exceed the longest critical section.
type RedisLocker struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

type RedisLockerConfig struct {
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig, log *logger.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "ort:lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultTokenLockTTL
	}
	if cfg.Retry <= 0 {
		cfg.Retry = constants.DefaultTokenLockRetry
	}
	return &RedisLocker{
		redis:  client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		retry:  cfg.Retry,
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	lockKey := l.prefix + ":" + key
	owner := xid.New().String()

	for {
		ok, err := l.redis.SetNX(ctx, lockKey, owner, l.ttl).Result()
		if err != nil {
			metrics.TokenLockFailures.WithLabelValues(BackendRedis).Inc()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, commonerrors.ErrLockUnavailable.WithCause(err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.TokenLockFailures.WithLabelValues(BackendRedis).Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	metrics.TokenLockWaitSeconds.WithLabelValues(BackendRedis).Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must run even when the request context is already done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.ttl)
			defer cancel()
			if err := l.release(releaseCtx, lockKey, owner); err != nil {
				l.log.WithFields(ctx, logger.Fields{
					"action": "token_lock_release_failed",
				}).Warnf("failed to release token lock: %v", err)
			}
		})
	}, nil
}

func (l *RedisLocker) release(ctx context.Context, lockKey, owner string) error {
	n, err := releaseLockLua.Run(ctx, l.redis, []string{lockKey}, owner).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", lockKey, err)
	}
	if n == 0 {
		return errors.New("lease expired before release")
	}
	return nil
}
