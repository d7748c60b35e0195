package locking

import (
	"context"
	"strings"
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// KeyedLocker serializes work per key. Lock blocks until the key is free or
// ctx is done; the returned func releases the lock and is safe to call once.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// PairKey builds the lock key for a (subject, client) pair. Both parts are
// lowercased so that lookups that match case-insensitively share a lock.
func PairKey(subject, clientID string) string {
	return strings.ToLower(subject) + "\x00" + strings.ToLower(clientID)
}
