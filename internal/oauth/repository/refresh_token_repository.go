package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/common/resilience"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/store"
)

// RefreshTokenRepository is the persistence boundary used by the issuer.
// Apart from CreateToken, operations never fail: a store that cannot be
// reached behaves like an empty one and the failure is logged.
type RefreshTokenRepository interface {
	CreateToken(value, clientID, subject string, issuedAt, expiresAt time.Time) (domain.Candidate, error)
	Add(ctx context.Context, candidate domain.Candidate) string
	FindByValue(ctx context.Context, digest string) (domain.RefreshTokenRecord, bool)
	FindByID(ctx context.Context, id string) (domain.RefreshTokenRecord, bool)
	FindByUsername(ctx context.Context, subject string) []domain.RefreshTokenRecord
	FindBySubjectAndClient(ctx context.Context, subject, clientID string) (domain.RefreshTokenRecord, bool)
	Remove(ctx context.Context, rec domain.RefreshTokenRecord) bool
	RemoveByValue(ctx context.Context, rawOrDigest string) bool
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

type Repository struct {
	store          store.RefreshTokenStore
	hasher         commoncrypto.TokenHasher
	circuitBreaker resilience.CircuitBreakerInterface
	log            *logger.Logger
}

func NewRepository(
	s store.RefreshTokenStore,
	hasher commoncrypto.TokenHasher,
	circuitBreaker resilience.CircuitBreakerInterface,
	log *logger.Logger,
) *Repository {
	return &Repository{
		store:          s,
		hasher:         hasher,
		circuitBreaker: circuitBreaker,
		log:            log,
	}
}

// NewStoreCircuitBreaker builds a breaker that does not count not-found and
// duplicate outcomes as failures.
func NewStoreCircuitBreaker(name string, threshold int32, timeout, resetAfter time.Duration, log *logger.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  threshold,
		Timeout:    timeout,
		ResetAfter: resetAfter,
		Name:       name,
		Ignore:     store.IsExpected,
		Logger:     log,
	})
}

func (r *Repository) CreateToken(value, clientID, subject string, issuedAt, expiresAt time.Time) (domain.Candidate, error) {
	return domain.NewCandidate(value, clientID, subject, issuedAt, expiresAt)
}

func (r *Repository) Add(ctx context.Context, candidate domain.Candidate) string {
	if !candidate.Complete() {
		r.log.WithFields(ctx, logger.Fields{
			"action": "refresh_token_add_rejected",
		}).Warn("refusing to store incomplete refresh token candidate")
		return ""
	}

	if _, err := r.deleteBySubjectAndClient(ctx, candidate.Subject(), candidate.ClientID()); err != nil {
		r.logFailure(ctx, "refresh_token_add_cleanup_failed", candidate.Subject(), candidate.ClientID(), err)
		return ""
	}

	var id string
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = r.store.Insert(ctx, candidate.Record(""))
		return err
	})
	if err != nil {
		r.logFailure(ctx, "refresh_token_add_failed", candidate.Subject(), candidate.ClientID(), err)
		return ""
	}
	return id
}

func (r *Repository) FindByValue(ctx context.Context, digest string) (domain.RefreshTokenRecord, bool) {
	digest = commoncrypto.NormalizeDigest(digest)
	if digest == "" {
		return domain.RefreshTokenRecord{}, false
	}

	var rec domain.RefreshTokenRecord
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = r.store.FindByDigest(ctx, digest)
		return err
	})
	return r.found(ctx, "refresh_token_find_by_value_failed", rec, err)
}

func (r *Repository) FindByID(ctx context.Context, id string) (domain.RefreshTokenRecord, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RefreshTokenRecord{}, false
	}

	var rec domain.RefreshTokenRecord
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = r.store.FindByID(ctx, id)
		return err
	})
	return r.found(ctx, "refresh_token_find_by_id_failed", rec, err)
}

func (r *Repository) FindByUsername(ctx context.Context, subject string) []domain.RefreshTokenRecord {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return []domain.RefreshTokenRecord{}
	}

	var recs []domain.RefreshTokenRecord
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		recs, err = r.store.FindBySubject(ctx, subject)
		return err
	})
	if err != nil {
		r.logFailure(ctx, "refresh_token_find_by_username_failed", subject, "", err)
		return []domain.RefreshTokenRecord{}
	}
	if recs == nil {
		return []domain.RefreshTokenRecord{}
	}
	return recs
}

func (r *Repository) FindBySubjectAndClient(ctx context.Context, subject, clientID string) (domain.RefreshTokenRecord, bool) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(clientID) == "" {
		return domain.RefreshTokenRecord{}, false
	}

	var rec domain.RefreshTokenRecord
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = r.store.FindBySubjectAndClient(ctx, subject, clientID)
		return err
	})
	return r.found(ctx, "refresh_token_find_by_pair_failed", rec, err)
}

func (r *Repository) Remove(ctx context.Context, rec domain.RefreshTokenRecord) bool {
	if rec.ID == "" {
		if rec.TokenDigest == "" {
			return false
		}
		existing, ok := r.FindByValue(ctx, rec.TokenDigest)
		if !ok {
			return false
		}
		rec = existing
	}

	var deleted bool
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = r.store.DeleteByID(ctx, rec.ID)
		return err
	})
	if err != nil {
		r.logFailure(ctx, "refresh_token_remove_failed", rec.Subject, rec.ClientID, err)
		return false
	}
	return deleted
}

// RemoveByValue deletes the record whose digest is value, or failing that
// the record whose digest is Hash(value).
func (r *Repository) RemoveByValue(ctx context.Context, rawOrDigest string) bool {
	value := strings.TrimSpace(rawOrDigest)
	if value == "" {
		return false
	}

	if rec, ok := r.FindByValue(ctx, value); ok {
		return r.Remove(ctx, rec)
	}
	if rec, ok := r.FindByValue(ctx, r.hasher.Hash(value)); ok {
		return r.Remove(ctx, rec)
	}
	return false
}

func (r *Repository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.store.DeleteExpired(ctx, now)
		return err
	})
	return n, err
}

func (r *Repository) deleteBySubjectAndClient(ctx context.Context, subject, clientID string) (int64, error) {
	var n int64
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.store.DeleteBySubjectAndClient(ctx, subject, clientID)
		return err
	})
	return n, err
}

func (r *Repository) call(ctx context.Context, fn func(context.Context) error) error {
	if r.circuitBreaker == nil {
		return fn(ctx)
	}
	return r.circuitBreaker.Call(ctx, fn)
}

func (r *Repository) found(ctx context.Context, action string, rec domain.RefreshTokenRecord, err error) (domain.RefreshTokenRecord, bool) {
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		r.logFailure(ctx, action, rec.Subject, rec.ClientID, err)
	}
	return domain.RefreshTokenRecord{}, false
}

func (r *Repository) logFailure(ctx context.Context, action, subject, clientID string, err error) {
	fields := logger.Fields{"action": action}
	if subject != "" {
		fields["subject"] = subject
	}
	if clientID != "" {
		fields["client_id"] = clientID
	}

	entry := r.log.WithFields(ctx, fields)
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		entry.Error("refresh token store circuit breaker is open")
		return
	}
	entry.Warnf("refresh token store operation failed: %v", err)
}
