package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

// MemoryStore keeps records in process memory. It is meant for tests and
// single-instance development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]domain.RefreshTokenRecord
	idGenerator commoncrypto.IDGenerator
}

func NewMemoryStore(idGenerator commoncrypto.IDGenerator) *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]domain.RefreshTokenRecord),
		idGenerator: idGenerator,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec domain.RefreshTokenRecord) (id string, err error) {
	defer func(start time.Time) { observe(BackendMemory, "insert", start, err) }(time.Now())

	id, err = s.idGenerator.NewID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.TokenDigest = strings.ToLower(rec.TokenDigest)
	for _, existing := range s.records {
		if existing.TokenDigest == rec.TokenDigest {
			return "", ErrDuplicateDigest
		}
	}

	rec.ID = id
	s.records[id] = rec
	return id, nil
}

func (s *MemoryStore) FindByDigest(ctx context.Context, digest string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendMemory, "find_by_digest", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []domain.RefreshTokenRecord
	for _, r := range s.records {
		if strings.EqualFold(r.TokenDigest, digest) {
			matches = append(matches, r)
		}
	}
	if len(matches) != 1 {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}
	return matches[0], nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendMemory, "find_by_id", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) FindBySubject(ctx context.Context, subject string) (recs []domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendMemory, "find_by_subject", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs = []domain.RefreshTokenRecord{}
	for _, r := range s.records {
		if strings.EqualFold(r.Subject, subject) {
			recs = append(recs, r)
		}
	}
	sortNewestFirst(recs)
	return recs, nil
}

func (s *MemoryStore) FindBySubjectAndClient(ctx context.Context, subject, clientID string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendMemory, "find_by_pair", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []domain.RefreshTokenRecord
	for _, r := range s.records {
		if r.SamePair(subject, clientID) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}
	sortNewestFirst(matches)
	return matches[0], nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id string) (deleted bool, err error) {
	defer func(start time.Time) { observe(BackendMemory, "delete_by_id", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryStore) DeleteBySubjectAndClient(ctx context.Context, subject, clientID string) (n int64, err error) {
	defer func(start time.Time) { observe(BackendMemory, "delete_by_pair", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.records {
		if r.SamePair(subject, clientID) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	defer func(start time.Time) { observe(BackendMemory, "delete_expired", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.records {
		if r.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of every stored record.
func (s *MemoryStore) Snapshot() []domain.RefreshTokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RefreshTokenRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(recs []domain.RefreshTokenRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].IssuedAt.After(recs[j].IssuedAt)
	})
}
