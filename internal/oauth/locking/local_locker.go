package locking

import (
	"context"
	"sync"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process KeyedLocker. Entries are reference counted
// and dropped once no goroutine holds or waits for the key.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	entry := l.acquire(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		metrics.TokenLockFailures.WithLabelValues(BackendLocal).Inc()
		return nil, ctx.Err()
	}
	metrics.TokenLockWaitSeconds.WithLabelValues(BackendLocal).Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key)
		})
	}, nil
}

func (l *LocalLocker) acquire(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// Size returns the number of keys currently held or awaited.
func (l *LocalLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
