package resilience

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type CircuitBreakerInterface interface {
	Call(ctx context.Context, fn func(context.Context) error) error
	IsOpen() bool
}

// CircuitBreaker stops calling a failing backend after Threshold consecutive
// failures. Once ResetAfter has passed a single trial call is let through:
// success closes the circuit, failure opens it for another ResetAfter.
type CircuitBreaker struct {
	mu         sync.Mutex
	state      State
	failures   int32
	openedAt   time.Time
	trialing   bool
	threshold  int32
	timeout    time.Duration
	resetAfter time.Duration
	name       string
	ignore     func(error) bool
	log        *logger.Logger
	now        func() time.Time
}

type CircuitBreakerConfig struct {
	Threshold  int32
	Timeout    time.Duration
	ResetAfter time.Duration
	Name       string
	// Ignore reports errors that are expected outcomes (not found, conflicts)
	// and must not count as failures.
	Ignore func(error) bool
	Logger *logger.Logger
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:  config.Threshold,
		timeout:    config.Timeout,
		resetAfter: config.ResetAfter,
		name:       config.Name,
		ignore:     config.Ignore,
		log:        config.Logger,
		now:        time.Now,
	}
	cb.publish(StateClosed)
	return cb
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// IsOpen reports whether calls are currently rejected. A half-open breaker
// whose trial is already in flight counts as open.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentLocked() {
	case StateOpen:
		return true
	case StateHalfOpen:
		return cb.trialing
	default:
		return false
	}
}

func (cb *CircuitBreaker) currentLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetAfter {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

// admit decides whether a call may proceed and whether it is the trial.
func (cb *CircuitBreaker) admit() (allowed, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		if cb.trialing {
			return false, false
		}
		cb.trialing = true
		return true, true
	default:
		return true, false
	}
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialing = false
		if cb.log != nil {
			cb.log.Infof("circuit breaker [%s]: trial succeeded, closing", cb.name)
		}
	}
	cb.failures = 0
	cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	cb.trialing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onFailure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.name != "" {
		metrics.CircuitBreakerFailures.WithLabelValues(cb.name).Inc()
	}

	if trial {
		cb.trialing = false
		cb.trip()
		return
	}

	cb.failures++
	if cb.log != nil {
		cb.log.Warnf("circuit breaker [%s]: failure %d/%d", cb.name, cb.failures, cb.threshold)
	}
	if cb.threshold > 0 && cb.failures >= cb.threshold && cb.state == StateClosed {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.setStateLocked(StateOpen)
	if cb.log != nil {
		cb.log.Errorf("circuit breaker [%s]: open for %v", cb.name, cb.resetAfter)
	}
}

func (cb *CircuitBreaker) setStateLocked(s State) {
	cb.state = s
	cb.publish(s)
}

func (cb *CircuitBreaker) publish(s State) {
	if cb.name != "" {
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
	}
}

func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	allowed, trial := cb.admit()
	if !allowed {
		if cb.log != nil {
			cb.log.Debugf("circuit breaker [%s]: rejecting call", cb.name)
		}
		return commonerrors.ErrCircuitOpen
	}

	callCtx := ctx
	if cb.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cb.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the backend's health is unknown.
		cb.release(trial)
		return err
	}
	if err != nil && (cb.ignore == nil || !cb.ignore(err)) {
		cb.onFailure(trial)
		return err
	}

	cb.onSuccess(trial)
	return err
}
