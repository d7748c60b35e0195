package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

// Redis applies PEXPIREAT against the wall clock, so fixtures live near now.
var baseTime = time.Now().UTC().Truncate(time.Millisecond)

func newRecord(digest, subject, clientID string, issuedAt time.Time) domain.RefreshTokenRecord {
	return domain.RefreshTokenRecord{
		TokenDigest:     digest,
		Subject:         subject,
		ClientID:        clientID,
		IssuedAt:        issuedAt,
		ExpiresAt:       issuedAt.Add(24 * time.Hour),
		ProtectedTicket: "ticket-" + digest,
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type storeFactory func(t *testing.T) RefreshTokenStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		BackendMemory: func(t *testing.T) RefreshTokenStore {
			return NewMemoryStore(commoncrypto.NewUUIDGenerator())
		},
		BackendRedis: func(t *testing.T) RefreshTokenStore {
			_, client := newTestRedis(t)
			return NewRedisStore(client, "test", commoncrypto.NewUUIDGenerator())
		},
	}
}

func TestStore_InsertAndFind(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			rec := newRecord("ABCDEF", "Alice", "Web", baseTime)
			id, err := s.Insert(ctx, rec)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			byDigest, err := s.FindByDigest(ctx, "abcdef")
			require.NoError(t, err)
			assert.Equal(t, id, byDigest.ID)
			assert.Equal(t, "abcdef", byDigest.TokenDigest)
			assert.Equal(t, "Alice", byDigest.Subject)
			assert.Equal(t, "Web", byDigest.ClientID)
			assert.True(t, rec.ExpiresAt.Equal(byDigest.ExpiresAt))
			assert.Equal(t, rec.ProtectedTicket, byDigest.ProtectedTicket)

			byID, err := s.FindByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, byDigest, byID)

			byPair, err := s.FindBySubjectAndClient(ctx, "ALICE", "web")
			require.NoError(t, err)
			assert.Equal(t, id, byPair.ID)
		})
	}
}

func TestStore_DuplicateDigestRejected(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.Insert(ctx, newRecord("dup", "alice", "web", baseTime))
			require.NoError(t, err)

			_, err = s.Insert(ctx, newRecord("DUP", "bob", "web", baseTime))
			assert.ErrorIs(t, err, ErrDuplicateDigest)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.FindByDigest(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.FindByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.FindBySubjectAndClient(ctx, "nobody", "web")
			assert.ErrorIs(t, err, ErrNotFound)

			recs, err := s.FindBySubject(ctx, "nobody")
			require.NoError(t, err)
			assert.NotNil(t, recs)
			assert.Empty(t, recs)

			deleted, err := s.DeleteByID(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestStore_FindBySubjectCaseInsensitive(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.Insert(ctx, newRecord("d1", "alice", "web", baseTime))
			require.NoError(t, err)
			_, err = s.Insert(ctx, newRecord("d2", "ALICE", "mobile", baseTime.Add(time.Minute)))
			require.NoError(t, err)
			_, err = s.Insert(ctx, newRecord("d3", "bob", "web", baseTime))
			require.NoError(t, err)

			recs, err := s.FindBySubject(ctx, "Alice")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "d2", recs[0].TokenDigest)
			assert.Equal(t, "d1", recs[1].TokenDigest)
		})
	}
}

func TestStore_DeleteByID(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			id, err := s.Insert(ctx, newRecord("d1", "alice", "web", baseTime))
			require.NoError(t, err)

			deleted, err := s.DeleteByID(ctx, id)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.DeleteByID(ctx, id)
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = s.FindByDigest(ctx, "d1")
			assert.ErrorIs(t, err, ErrNotFound)

			recs, err := s.FindBySubject(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestStore_DeleteBySubjectAndClient(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.Insert(ctx, newRecord("d1", "alice", "web", baseTime))
			require.NoError(t, err)
			_, err = s.Insert(ctx, newRecord("d2", "alice", "mobile", baseTime))
			require.NoError(t, err)

			n, err := s.DeleteBySubjectAndClient(ctx, "ALICE", "WEB")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = s.FindByDigest(ctx, "d1")
			assert.ErrorIs(t, err, ErrNotFound)

			other, err := s.FindByDigest(ctx, "d2")
			require.NoError(t, err)
			assert.Equal(t, "mobile", other.ClientID)
		})
	}
}

func TestStore_ConcurrentInsertDistinctDigests(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					digest := string(rune('a'+i)) + "-digest"
					_, err := s.Insert(ctx, newRecord(digest, "alice", "web", baseTime))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			recs, err := s.FindBySubject(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, recs, 20)
		})
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(commoncrypto.NewUUIDGenerator())

	_, err := s.Insert(ctx, newRecord("old", "alice", "web", baseTime.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newRecord("new", "alice", "mobile", baseTime))
	require.NoError(t, err)

	n, err := s.DeleteExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, s.Len())
}

func TestRedisStore_RecordsExpireWithToken(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, "test", commoncrypto.NewUUIDGenerator())

	rec := newRecord("d1", "alice", "web", time.Now().UTC())
	rec.ExpiresAt = time.Now().Add(time.Minute)
	_, err := s.Insert(ctx, rec)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.FindByDigest(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := s.FindBySubject(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.False(t, mr.Exists("test:subject:alice"))

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_UnavailableBackend(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, "test", commoncrypto.NewUUIDGenerator())
	mr.Close()

	_, err := s.Insert(ctx, newRecord("d1", "alice", "web", baseTime))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = s.FindByDigest(ctx, "d1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStore_SubjectSetExpiresWithLongestToken(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, "test", commoncrypto.NewUUIDGenerator())
	now := time.Now().UTC()

	insert := func(digest string, ttl time.Duration) {
		t.Helper()
		rec := newRecord(digest, "alice", "web", now)
		rec.ExpiresAt = now.Add(ttl)
		_, err := s.Insert(ctx, rec)
		require.NoError(t, err)
	}

	insert("d1", time.Minute)
	assert.Greater(t, mr.TTL("test:subject:alice"), time.Duration(0))

	insert("d2", 10*time.Minute)
	assert.Greater(t, mr.TTL("test:subject:alice"), 9*time.Minute)

	insert("d3", 5*time.Minute)
	assert.Greater(t, mr.TTL("test:subject:alice"), 9*time.Minute, "shorter token must not shorten the set")

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("test:subject:alice"))
}
