package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/db"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

const (
	insertColumns = `id, token_digest, subject, client_id, issued_at, expires_at, protected_ticket`
	recordColumns = `id::text, token_digest, subject, client_id, issued_at, expires_at, protected_ticket`
)

type PgStore struct {
	pool        *pgxpool.Pool
	idGenerator commoncrypto.IDGenerator
	retry       db.RetryConfig
	log         *logger.Logger
}

func NewPgStore(pool *pgxpool.Pool, idGenerator commoncrypto.IDGenerator, log *logger.Logger) *PgStore {
	return &PgStore{
		pool:        pool,
		idGenerator: idGenerator,
		retry:       db.DefaultRetryConfig,
		log:         log,
	}
}

func (s *PgStore) Insert(ctx context.Context, rec domain.RefreshTokenRecord) (id string, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "insert", start, err) }(time.Now())

	id, err = s.idGenerator.NewID()
	if err != nil {
		return "", err
	}

	err = db.RetryWithBackoff(ctx, s.log, s.retry, func() error {
		start := time.Now()
		_, execErr := s.pool.Exec(
			ctx,
			`INSERT INTO refresh_tokens (`+insertColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id,
			strings.ToLower(rec.TokenDigest),
			rec.Subject,
			rec.ClientID,
			rec.IssuedAt.UTC(),
			rec.ExpiresAt.UTC(),
			rec.ProtectedTicket,
		)
		return db.HandleExecError(execErr, "insert refresh token", start)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", ErrDuplicateDigest
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *PgStore) FindByDigest(ctx context.Context, digest string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "find_by_digest", start, err) }(time.Now())

	start := time.Now()
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+recordColumns+`
		 FROM refresh_tokens
		 WHERE token_digest = $1
		 LIMIT 2`,
		strings.ToLower(digest),
	)
	if err != nil {
		return domain.RefreshTokenRecord{}, s.unavailable(db.HandleQueryError(err, nil, "find refresh token by digest", start))
	}
	recs, err := scanRecords(rows)
	if err := db.HandleQueryError(err, nil, "find refresh token by digest", start); err != nil {
		return domain.RefreshTokenRecord{}, s.unavailable(err)
	}
	if len(recs) != 1 {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *PgStore) FindByID(ctx context.Context, id string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "find_by_id", start, err) }(time.Now())

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return domain.RefreshTokenRecord{}, ErrNotFound
	}

	start := time.Now()
	row := s.pool.QueryRow(
		ctx,
		`SELECT `+recordColumns+`
		 FROM refresh_tokens
		 WHERE id = $1`,
		id,
	)
	rec, err = scanRecord(row)
	if err := db.HandleQueryError(err, ErrNotFound, "find refresh token by id", start); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.RefreshTokenRecord{}, err
		}
		return domain.RefreshTokenRecord{}, s.unavailable(err)
	}
	return rec, nil
}

func (s *PgStore) FindBySubject(ctx context.Context, subject string) (recs []domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "find_by_subject", start, err) }(time.Now())

	start := time.Now()
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+recordColumns+`
		 FROM refresh_tokens
		 WHERE lower(subject) = lower($1)
		 ORDER BY issued_at DESC`,
		subject,
	)
	if err != nil {
		return nil, s.unavailable(db.HandleQueryError(err, nil, "find refresh tokens by subject", start))
	}
	recs, err = scanRecords(rows)
	if err := db.HandleQueryError(err, nil, "find refresh tokens by subject", start); err != nil {
		return nil, s.unavailable(err)
	}
	return recs, nil
}

func (s *PgStore) FindBySubjectAndClient(ctx context.Context, subject, clientID string) (rec domain.RefreshTokenRecord, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "find_by_pair", start, err) }(time.Now())

	start := time.Now()
	row := s.pool.QueryRow(
		ctx,
		`SELECT `+recordColumns+`
		 FROM refresh_tokens
		 WHERE lower(subject) = lower($1) AND lower(client_id) = lower($2)
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		subject,
		clientID,
	)
	rec, err = scanRecord(row)
	if err := db.HandleQueryError(err, ErrNotFound, "find refresh token by subject and client", start); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.RefreshTokenRecord{}, err
		}
		return domain.RefreshTokenRecord{}, s.unavailable(err)
	}
	return rec, nil
}

func (s *PgStore) DeleteByID(ctx context.Context, id string) (deleted bool, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "delete_by_id", start, err) }(time.Now())

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return false, nil
	}

	var affected int64
	err = db.RetryWithBackoff(ctx, s.log, s.retry, func() error {
		start := time.Now()
		res, execErr := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
		if execErr == nil {
			affected = res.RowsAffected()
		}
		return db.HandleExecError(execErr, "delete refresh token by id", start)
	})
	if err != nil {
		return false, s.unavailable(err)
	}
	return affected > 0, nil
}

func (s *PgStore) DeleteBySubjectAndClient(ctx context.Context, subject, clientID string) (n int64, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "delete_by_pair", start, err) }(time.Now())

	err = db.RetryWithBackoff(ctx, s.log, s.retry, func() error {
		start := time.Now()
		res, execErr := s.pool.Exec(
			ctx,
			`DELETE FROM refresh_tokens
			 WHERE lower(subject) = lower($1) AND lower(client_id) = lower($2)`,
			subject,
			clientID,
		)
		if execErr == nil {
			n = res.RowsAffected()
		}
		return db.HandleExecError(execErr, "delete refresh tokens by subject and client", start)
	})
	if err != nil {
		return 0, s.unavailable(err)
	}
	return n, nil
}

func (s *PgStore) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	defer func(start time.Time) { observe(BackendPostgres, "delete_expired", start, err) }(time.Now())

	start := time.Now()
	res, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, s.unavailable(db.HandleExecError(err, "delete expired refresh tokens", start))
	}
	db.MeasureQueryDuration("delete expired refresh tokens", start)
	return res.RowsAffected(), nil
}

func (s *PgStore) unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func scanRecord(row pgx.Row) (domain.RefreshTokenRecord, error) {
	var rec domain.RefreshTokenRecord
	err := row.Scan(
		&rec.ID,
		&rec.TokenDigest,
		&rec.Subject,
		&rec.ClientID,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.ProtectedTicket,
	)
	if err != nil {
		return domain.RefreshTokenRecord{}, err
	}
	rec.TokenDigest = strings.TrimSpace(rec.TokenDigest)
	rec.IssuedAt = rec.IssuedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]domain.RefreshTokenRecord, error) {
	defer rows.Close()

	recs := []domain.RefreshTokenRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
