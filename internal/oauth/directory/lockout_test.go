package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

type mockUserRecords struct {
	findByUsernameFunc func(ctx context.Context, username string) (userRecord, error)
	findLockoutFunc    func(ctx context.Context, id string) (LockoutState, error)
	saveLockoutFunc    func(ctx context.Context, id string, prev, next LockoutState) error
	insertFunc         func(ctx context.Context, id, username, passwordHash string, roles []string) error
}

func (m *mockUserRecords) findByUsername(ctx context.Context, username string) (userRecord, error) {
	if m.findByUsernameFunc != nil {
		return m.findByUsernameFunc(ctx, username)
	}
	return userRecord{}, errUserNotFound
}

func (m *mockUserRecords) findLockout(ctx context.Context, id string) (LockoutState, error) {
	if m.findLockoutFunc != nil {
		return m.findLockoutFunc(ctx, id)
	}
	return LockoutState{}, errUserNotFound
}

func (m *mockUserRecords) saveLockout(ctx context.Context, id string, prev, next LockoutState) error {
	if m.saveLockoutFunc != nil {
		return m.saveLockoutFunc(ctx, id, prev, next)
	}
	return nil
}

func (m *mockUserRecords) insert(ctx context.Context, id, username, passwordHash string, roles []string) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, id, username, passwordHash, roles)
	}
	return nil
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type fixedIDGenerator struct{}

func (fixedIDGenerator) NewID() (string, error) { return "u-new", nil }

// singleUser backs the mock with one in-memory row so saveLockout and the
// next lookup see the same state.
func singleUser(state *LockoutState, saves *int) *mockUserRecords {
	return &mockUserRecords{
		findByUsernameFunc: func(ctx context.Context, username string) (userRecord, error) {
			if username != "alice" {
				return userRecord{}, errUserNotFound
			}
			return userRecord{
				User:         domain.User{ID: "u1", Username: "alice"},
				PasswordHash: "h:correct-horse",
				Lockout:      *state,
			}, nil
		},
		findLockoutFunc: func(ctx context.Context, id string) (LockoutState, error) {
			return *state, nil
		},
		saveLockoutFunc: func(ctx context.Context, id string, prev, next LockoutState) error {
			*saves++
			*state = next
			return nil
		},
	}
}

func TestLockoutPolicy_OnFailure(t *testing.T) {
	policy := LockoutPolicy{MaxFailedAttempts: 3, Duration: 10 * time.Minute}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	active := now.Add(time.Minute)
	expired := now.Add(-time.Minute)

	tests := []struct {
		name        string
		state       LockoutState
		wantChanged bool
		wantCount   int
		wantLocked  bool
	}{
		{"first failure", LockoutState{}, true, 1, false},
		{"below threshold", LockoutState{FailedAttempts: 1}, true, 2, false},
		{"reaches threshold", LockoutState{FailedAttempts: 2}, true, 0, true},
		{"while locked", LockoutState{LockedUntil: &active}, false, 0, true},
		{"after lock expired", LockoutState{LockedUntil: &expired}, true, 1, false},
		{"stale counter after expiry", LockoutState{FailedAttempts: 2, LockedUntil: &expired}, true, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed := policy.OnFailure(tt.state, now)
			if changed != tt.wantChanged {
				t.Fatalf("expected changed=%v, got %v", tt.wantChanged, changed)
			}
			if next.FailedAttempts != tt.wantCount {
				t.Errorf("expected %d failed attempts, got %d", tt.wantCount, next.FailedAttempts)
			}
			if policy.Locked(next, now) != tt.wantLocked {
				t.Errorf("expected locked=%v, got %+v", tt.wantLocked, next)
			}
		})
	}
}

func TestLockoutPolicy_OnFailureDoesNotExtendActiveLock(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(2 * time.Minute)

	next, changed := policy.OnFailure(LockoutState{LockedUntil: &until}, now)
	if changed {
		t.Fatal("failure during a lock must not be recorded")
	}
	if !next.LockedUntil.Equal(until) {
		t.Errorf("expected lock to stay at %v, got %v", until, next.LockedUntil)
	}
}

func TestLockoutPolicy_OnSuccess(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	active := now.Add(time.Minute)
	expired := now.Add(-time.Minute)

	if _, changed := policy.OnSuccess(LockoutState{}, now); changed {
		t.Error("clean state must not be rewritten")
	}
	if next, changed := policy.OnSuccess(LockoutState{FailedAttempts: 3}, now); !changed || next.FailedAttempts != 0 {
		t.Errorf("expected counter reset, got %+v changed=%v", next, changed)
	}
	if next, changed := policy.OnSuccess(LockoutState{LockedUntil: &expired}, now); !changed || next.LockedUntil != nil {
		t.Errorf("expected expired lock cleared, got %+v changed=%v", next, changed)
	}
	if next, changed := policy.OnSuccess(LockoutState{LockedUntil: &active}, now); changed || !policy.Locked(next, now) {
		t.Errorf("active lock must survive a correct password, got %+v changed=%v", next, changed)
	}
}

func TestPgDirectory_LockoutLifecycle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	var state LockoutState
	var saves int
	dir, err := newDirectory(singleUser(&state, &saves), plainHasher{}, fixedIDGenerator{}, clk, DefaultLockoutPolicy())
	if err != nil {
		t.Fatalf("newDirectory: %v", err)
	}
	alice := domain.User{ID: "u1"}

	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		if u, err := dir.FindUser(ctx, "alice", "wrong"); u != nil || err != nil {
			t.Fatalf("attempt %d: expected no user, got %v %v", i+1, u, err)
		}
	}
	locked, err := dir.IsLockedOut(ctx, alice)
	if err != nil || !locked {
		t.Fatalf("expected lock after %d failures, got %v %v", DefaultMaxFailedAttempts, locked, err)
	}
	lockedUntil := *state.LockedUntil

	clk.Advance(time.Minute)
	savesBefore := saves
	_, _ = dir.FindUser(ctx, "alice", "wrong")
	if saves != savesBefore || !state.LockedUntil.Equal(lockedUntil) {
		t.Fatalf("failure while locked must not touch the row, lock now %v", state.LockedUntil)
	}

	clk.Advance(DefaultLockoutDuration)
	if locked, _ := dir.IsLockedOut(ctx, alice); locked {
		t.Fatal("expected lock to expire")
	}

	_, _ = dir.FindUser(ctx, "alice", "wrong")
	if locked, _ := dir.IsLockedOut(ctx, alice); locked {
		t.Fatal("one failure after expiry must not re-lock")
	}
	if state.FailedAttempts != 1 {
		t.Errorf("expected counting to restart at 1, got %d", state.FailedAttempts)
	}

	u, err := dir.FindUser(ctx, "alice", "correct-horse")
	if err != nil || u == nil || u.ID != "u1" {
		t.Fatalf("expected alice, got %v %v", u, err)
	}
	if state.FailedAttempts != 0 || state.LockedUntil != nil {
		t.Errorf("expected clean state after success, got %+v", state)
	}
}

func TestPgDirectory_FindUser(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	t.Run("unknown user", func(t *testing.T) {
		dir, _ := newDirectory(&mockUserRecords{}, plainHasher{}, fixedIDGenerator{}, clk, DefaultLockoutPolicy())
		if u, err := dir.FindUser(ctx, "bob", "pw"); u != nil || err != nil {
			t.Errorf("expected nil, nil, got %v %v", u, err)
		}
	})

	t.Run("lookup error", func(t *testing.T) {
		boom := errors.New("connection reset")
		records := &mockUserRecords{
			findByUsernameFunc: func(ctx context.Context, username string) (userRecord, error) {
				return userRecord{}, boom
			},
		}
		dir, _ := newDirectory(records, plainHasher{}, fixedIDGenerator{}, clk, DefaultLockoutPolicy())
		if _, err := dir.FindUser(ctx, "alice", "pw"); !errors.Is(err, boom) {
			t.Errorf("expected lookup error, got %v", err)
		}
	})

	t.Run("trims username", func(t *testing.T) {
		var state LockoutState
		var saves int
		dir, _ := newDirectory(singleUser(&state, &saves), plainHasher{}, fixedIDGenerator{}, clk, DefaultLockoutPolicy())
		if u, _ := dir.FindUser(ctx, "  alice ", "correct-horse"); u == nil {
			t.Error("expected surrounding whitespace to be ignored")
		}
		if saves != 0 {
			t.Errorf("clean login must not write, got %d saves", saves)
		}
	})
}

func TestPgDirectory_CreateUser(t *testing.T) {
	var inserted string
	records := &mockUserRecords{
		insertFunc: func(ctx context.Context, id, username, passwordHash string, roles []string) error {
			inserted = passwordHash
			if roles == nil {
				t.Error("roles must not be nil")
			}
			return nil
		},
	}
	dir, _ := newDirectory(records, plainHasher{}, fixedIDGenerator{}, clock.NewRealClock(), DefaultLockoutPolicy())

	u, err := dir.CreateUser(context.Background(), "carol", "s3cret-pass", nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID != "u-new" || inserted != "h:s3cret-pass" {
		t.Errorf("unexpected user %+v hash %q", u, inserted)
	}

	records.insertFunc = func(ctx context.Context, id, username, passwordHash string, roles []string) error {
		return ErrUsernameTaken
	}
	if _, err := dir.CreateUser(context.Background(), "carol", "s3cret-pass", nil); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}
