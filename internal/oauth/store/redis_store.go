package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

const DefaultRedisPrefix = "ort"

const insertRecordScript = `
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "digest", ARGV[2],
  "subject", ARGV[3],
  "subject_key", ARGV[4],
  "client_id", ARGV[5],
  "client_key", ARGV[6],
  "issued_at", ARGV[7],
  "expires_at", ARGV[8],
  "ticket", ARGV[9])
redis.call("PEXPIREAT", KEYS[1], ARGV[8])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("PEXPIREAT", KEYS[2], ARGV[8])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SADD", KEYS[3], ARGV[1])
  if redis.call("PTTL", KEYS[3]) < ttl then
    redis.call("PEXPIRE", KEYS[3], ttl)
  end
end
return 1
`

var insertRecordLua = redis.NewScript(insertRecordScript)

const deleteRecordScript = `
local fields = redis.call("HMGET", KEYS[1], "digest", "subject_key")
if not fields[1] then
  return 0
end
redis.call("DEL", KEYS[1])
local digest_key = ARGV[2] .. ":digest:" .. fields[1]
if redis.call("GET", digest_key) == ARGV[1] then
  redis.call("DEL", digest_key)
end
redis.call("SREM", ARGV[2] .. ":subject:" .. fields[2], ARGV[1])
return 1
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

const deletePairScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  local record_key = ARGV[1] .. ":rec:" .. id
  local fields = redis.call("HMGET", record_key, "digest", "client_key")
  if not fields[1] then
    redis.call("SREM", KEYS[1], id)
  elseif fields[2] == ARGV[2] then
    redis.call("DEL", record_key)
    local digest_key = ARGV[1] .. ":digest:" .. fields[1]
    if redis.call("GET", digest_key) == id then
      redis.call("DEL", digest_key)
    end
    redis.call("SREM", KEYS[1], id)
    removed = removed + 1
  end
end
return removed
`

var deletePairLua = redis.NewScript(deletePairScript)

// RedisStore keeps each record in a hash that expires with the token, plus a
// digest index key and a per-subject id set. The set lives as long as its
// longest-lived member.
type RedisStore struct {
	redis       redis.UniversalClient
	prefix      string
	idGenerator commoncrypto.IDGenerator
}

func NewRedisStore(client redis.UniversalClient, prefix string, idGenerator commoncrypto.IDGenerator) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:       client,
		prefix:      prefix,
		idGenerator: idGenerator,
	}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *RedisStore) digestKey(digest string) string {
	return s.prefix + ":digest:" + strings.ToLower(digest)
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.prefix + ":subject:" + strings.ToLower(subject)
}

func (s *RedisStore) Insert(ctx context.Context, rec domain.RefreshTokenRecord) (id string, err error) {
	defer func(start time.Time) { observe(BackendRedis, "insert", start, err) }(time.Now())

	id, err = s.idGenerator.NewID()
	if err != nil {
		return "", err
	}

	digest := strings.ToLower(rec.TokenDigest)
	ok, err := insertRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(id), s.digestKey(digest), s.subjectKey(rec.Subject)},
		id,
		digest,
		rec.Subject,
		strings.ToLower(rec.Subject),
		rec.ClientID,
		strings.ToLower(rec.ClientID),
		rec.IssuedAt.UTC().UnixMilli(),
		rec.ExpiresAt.UTC().UnixMilli(),
		rec.ProtectedTicket,
	).Int()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ok == 0 {
		return "", ErrDuplicateDigest
	}
	return id, nil
}

func (s *RedisStore) FindByDigest(ctx context.Context, digest string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendRedis, "find_by_digest", start, err) }(time.Now())

	id, err := s.redis.Get(ctx, s.digestKey(digest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RefreshTokenRecord{}, ErrNotFound
		}
		return domain.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err = s.load(ctx, id)
	if err != nil {
		return domain.RefreshTokenRecord{}, err
	}
	if !strings.EqualFold(rec.TokenDigest, digest) {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendRedis, "find_by_id", start, err) }(time.Now())
	return s.load(ctx, id)
}

func (s *RedisStore) FindBySubject(ctx context.Context, subject string) (recs []domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendRedis, "find_by_subject", start, err) }(time.Now())
	return s.listSubject(ctx, subject)
}

func (s *RedisStore) FindBySubjectAndClient(ctx context.Context, subject, clientID string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendRedis, "find_by_pair", start, err) }(time.Now())

	recs, err := s.listSubject(ctx, subject)
	if err != nil {
		return domain.RefreshTokenRecord{}, err
	}
	for _, r := range recs {
		if r.SamePair(subject, clientID) {
			return r, nil
		}
	}
	return domain.RefreshTokenRecord{}, ErrNotFound
}

// listSubject loads every live record of subject and prunes set members whose
// record hash has already expired.
func (s *RedisStore) listSubject(ctx context.Context, subject string) ([]domain.RefreshTokenRecord, error) {
	key := s.subjectKey(subject)
	ids, err := s.redis.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	recs := make([]domain.RefreshTokenRecord, 0, len(ids))
	var stale []any
	for _, id := range ids {
		rec, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, key, stale...).Err()
	}

	sortNewestFirst(recs)
	return recs, nil
}

func (s *RedisStore) DeleteByID(ctx context.Context, id string) (deleted bool, err error) {
	defer func(start time.Time) { observe(BackendRedis, "delete_by_id", start, err) }(time.Now())

	n, err := deleteRecordLua.Run(ctx, s.redis, []string{s.recordKey(id)}, id, s.prefix).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) DeleteBySubjectAndClient(ctx context.Context, subject, clientID string) (n int64, err error) {
	defer func(start time.Time) { observe(BackendRedis, "delete_by_pair", start, err) }(time.Now())

	n, err = deletePairLua.Run(
		ctx,
		s.redis,
		[]string{s.subjectKey(subject)},
		s.prefix,
		strings.ToLower(clientID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// DeleteExpired is a no-op: record and index keys carry PEXPIREAT at the
// token expiry and Redis evicts them itself.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, id string) (domain.RefreshTokenRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}

	issuedAt, err := parseMillis(fields["issued_at"])
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("corrupt refresh token record %s: %w", id, err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("corrupt refresh token record %s: %w", id, err)
	}

	return domain.RefreshTokenRecord{
		ID:              id,
		TokenDigest:     fields["digest"],
		Subject:         fields["subject"],
		ClientID:        fields["client_id"],
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
		ProtectedTicket: fields["ticket"],
	}, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
