package directory

import "time"

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// LockoutState is the persisted failure counter of one account.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy decides how password failures move an account in and out of
// lockout. FailedAttempts only counts failures since the last lock ended.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Duration:          DefaultLockoutDuration,
	}
}

func (p LockoutPolicy) Locked(state LockoutState, now time.Time) bool {
	return state.LockedUntil != nil && state.LockedUntil.After(now)
}

// OnFailure returns the state after a wrong password and whether it changed.
// Failures during an active lock are not counted and never extend it.
func (p LockoutPolicy) OnFailure(state LockoutState, now time.Time) (LockoutState, bool) {
	if p.Locked(state, now) {
		return state, false
	}

	attempts := state.FailedAttempts + 1
	if state.LockedUntil != nil {
		attempts = 1
	}

	if p.MaxFailedAttempts > 0 && attempts >= p.MaxFailedAttempts {
		until := now.Add(p.Duration)
		return LockoutState{LockedUntil: &until}, true
	}
	return LockoutState{FailedAttempts: attempts}, true
}

// OnSuccess clears the counter and an expired lock. An active lock stays.
func (p LockoutPolicy) OnSuccess(state LockoutState, now time.Time) (LockoutState, bool) {
	if p.Locked(state, now) {
		return state, false
	}
	if state.FailedAttempts == 0 && state.LockedUntil == nil {
		return state, false
	}
	return LockoutState{}, true
}
