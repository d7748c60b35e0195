package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/db"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

var ErrUsernameTaken = errors.New("username already exists")

var errUserNotFound = errors.New("user not found")

type userRecord struct {
	domain.User
	PasswordHash string
	Lockout      LockoutState
}

type userRecords interface {
	findByUsername(ctx context.Context, username string) (userRecord, error)
	findLockout(ctx context.Context, id string) (LockoutState, error)
	// saveLockout writes next only if the stored state still equals prev.
	saveLockout(ctx context.Context, id string, prev, next LockoutState) error
	insert(ctx context.Context, id, username, passwordHash string, roles []string) error
}

// PgDirectory authenticates against the users table with bcrypt hashes and
// locks an account after repeated password failures.
type PgDirectory struct {
	records     userRecords
	hasher      commoncrypto.PasswordHasher
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	policy      LockoutPolicy
	dummyHash   string
}

func NewPgDirectory(
	pool *pgxpool.Pool,
	hasher commoncrypto.PasswordHasher,
	idGenerator commoncrypto.IDGenerator,
	clock clock.Clock,
) (*PgDirectory, error) {
	return newDirectory(&pgUserRecords{pool: pool}, hasher, idGenerator, clock, DefaultLockoutPolicy())
}

func newDirectory(
	records userRecords,
	hasher commoncrypto.PasswordHasher,
	idGenerator commoncrypto.IDGenerator,
	clock clock.Clock,
	policy LockoutPolicy,
) (*PgDirectory, error) {
	dummy, err := hasher.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare directory: %w", err)
	}
	return &PgDirectory{
		records:     records,
		hasher:      hasher,
		idGenerator: idGenerator,
		clock:       clock,
		policy:      policy,
		dummyHash:   dummy,
	}, nil
}

func (d *PgDirectory) FindUser(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	u, err := d.records.findByUsername(ctx, username)
	if errors.Is(err, errUserNotFound) {
		_ = d.hasher.Compare(d.dummyHash, password)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	if err := d.hasher.Compare(u.PasswordHash, password); err != nil {
		if next, changed := d.policy.OnFailure(u.Lockout, now); changed {
			if err := d.records.saveLockout(ctx, u.ID, u.Lockout, next); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	if next, changed := d.policy.OnSuccess(u.Lockout, now); changed {
		if err := d.records.saveLockout(ctx, u.ID, u.Lockout, next); err != nil {
			return nil, err
		}
	}

	user := u.User
	return &user, nil
}

func (d *PgDirectory) BuildIdentity(ctx context.Context, user domain.User, authenticationType string) (domain.Identity, error) {
	return BuildIdentity(user, authenticationType), nil
}

func (d *PgDirectory) IsLockedOut(ctx context.Context, user domain.User) (bool, error) {
	state, err := d.records.findLockout(ctx, user.ID)
	if errors.Is(err, errUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.policy.Locked(state, d.clock.Now()), nil
}

func (d *PgDirectory) CreateUser(ctx context.Context, username, password string, roles []string) (domain.User, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return domain.User{}, err
	}

	hash, err := d.hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	id, err := d.idGenerator.NewID()
	if err != nil {
		return domain.User{}, err
	}
	if roles == nil {
		roles = []string{}
	}

	if err := d.records.insert(ctx, id, username, hash, roles); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: id, Username: username, Roles: roles}, nil
}

type pgUserRecords struct {
	pool *pgxpool.Pool
}

func (r *pgUserRecords) findByUsername(ctx context.Context, username string) (userRecord, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT id::text, username, password_hash, display_name, roles, disabled, failed_attempts, locked_until
		 FROM users
		 WHERE lower(username) = lower($1)`,
		username,
	)

	var u userRecord
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.DisplayName,
		&u.Roles,
		&u.Disabled,
		&u.Lockout.FailedAttempts,
		&u.Lockout.LockedUntil,
	)
	if err := db.HandleQueryError(err, errUserNotFound, "find user by username", start); err != nil {
		return userRecord{}, err
	}
	return u, nil
}

func (r *pgUserRecords) findLockout(ctx context.Context, id string) (LockoutState, error) {
	start := time.Now()
	row := r.pool.QueryRow(ctx, `SELECT failed_attempts, locked_until FROM users WHERE id = $1`, id)

	var state LockoutState
	err := row.Scan(&state.FailedAttempts, &state.LockedUntil)
	if err := db.HandleQueryError(err, errUserNotFound, "find user lockout", start); err != nil {
		return LockoutState{}, err
	}
	return state, nil
}

// A concurrent login that already moved the row wins; this update then
// matches nothing and the attempt is simply not counted.
func (r *pgUserRecords) saveLockout(ctx context.Context, id string, prev, next LockoutState) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`UPDATE users
		 SET failed_attempts = $2, locked_until = $3
		 WHERE id = $1
		   AND failed_attempts = $4
		   AND locked_until IS NOT DISTINCT FROM $5`,
		id,
		next.FailedAttempts,
		next.LockedUntil,
		prev.FailedAttempts,
		prev.LockedUntil,
	)
	return db.HandleExecError(err, "save user lockout", start)
}

func (r *pgUserRecords) insert(ctx context.Context, id, username, passwordHash string, roles []string) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO users (id, username, password_hash, roles) VALUES ($1, $2, $3, $4)`,
		id,
		username,
		passwordHash,
		roles,
	)
	if db.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return db.HandleExecError(err, "create user", start)
}
