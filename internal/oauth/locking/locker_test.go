package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisLocker(client, RedisLockerConfig{Prefix: "test:lock", TTL: ttl, Retry: time.Millisecond}, logger.NewNop())
}

func assertMutualExclusion(t *testing.T, locker KeyedLocker) {
	t.Helper()

	var inside, maxInside, total atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), PairKey("Alice", "Web"))
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			total.Add(1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, int32(16), total.Load())
}

func TestPairKey_CaseInsensitive(t *testing.T) {
	assert.Equal(t, PairKey("alice", "web"), PairKey("ALICE", "Web"))
	assert.NotEqual(t, PairKey("alice", "web"), PairKey("alice", "mobile"))
	assert.NotEqual(t, PairKey("a", "bc"), PairKey("ab", "c"))
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	assertMutualExclusion(t, l)
	assert.Zero(t, l.Size())
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()

	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, l.Size())
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	_, l := newTestRedisLocker(t, 5*time.Second)
	assertMutualExclusion(t, l)
}

func TestRedisLocker_ReleaseOnlyOwnLease(t *testing.T) {
	mr, l := newTestRedisLocker(t, time.Second)
	key := "test:lock:" + PairKey("alice", "web")

	unlock, err := l.Lock(context.Background(), PairKey("alice", "web"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))

	unlock2, err := l.Lock(context.Background(), PairKey("alice", "web"))
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists(key), "stale release must not drop another owner's lease")

	unlock2()
	assert.False(t, mr.Exists(key))
}

func TestRedisLocker_ContextCancelledWhileWaiting(t *testing.T) {
	_, l := newTestRedisLocker(t, 5*time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_BackendDown(t *testing.T) {
	mr, l := newTestRedisLocker(t, time.Second)
	mr.Close()

	_, err := l.Lock(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrLockUnavailable))
}
