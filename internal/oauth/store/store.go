package store

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

var (
	ErrNotFound         = errors.New("refresh token record not found")
	ErrDuplicateDigest  = errors.New("refresh token digest already exists")
	ErrStoreUnavailable = errors.New("refresh token store unavailable")
)

// RefreshTokenStore persists refresh token records. Subject and client id
// comparisons are case-insensitive; digests are stored lowercase and must be
// unique. A digest that matches more than one record is reported as
// ErrNotFound.
type RefreshTokenStore interface {
	Insert(ctx context.Context, rec domain.RefreshTokenRecord) (string, error)
	FindByDigest(ctx context.Context, digest string) (domain.RefreshTokenRecord, error)
	FindByID(ctx context.Context, id string) (domain.RefreshTokenRecord, error)
	FindBySubject(ctx context.Context, subject string) ([]domain.RefreshTokenRecord, error)
	FindBySubjectAndClient(ctx context.Context, subject, clientID string) (domain.RefreshTokenRecord, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteBySubjectAndClient(ctx context.Context, subject, clientID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func observe(backend, operation string, start time.Time, err error) {
	metrics.StoreOperationDurationSeconds.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.StoreOperationErrors.WithLabelValues(backend, operation).Inc()
	}
}

// IsExpected reports errors that are normal outcomes rather than backend
// failures.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateDigest)
}
