// Package resilience retries transient failures of remote artifact reads and
// stops hammering a host that keeps failing.
package resilience

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// CircuitBreaker rejects calls after a run of consecutive failures, until a
// cooldown has passed.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures    int
	cooldownPeriod time.Duration

	state    CircuitState
	failures int
	tripTime time.Time
	now      func() time.Time

	// Callbacks
	OnTrip  func(failures int)
	OnReset func()
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Rejecting requests
	CircuitHalfOpen                     // Testing if the host recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// NewCircuitBreaker creates a circuit breaker that trips after five
// consecutive failures and lets one call through again after thirty seconds.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:    5,
		cooldownPeriod: 30 * time.Second,
		state:          CircuitClosed,
		now:            time.Now,
	}
}

// WithMaxFailures sets the consecutive failures that trip the breaker.
func (cb *CircuitBreaker) WithMaxFailures(n int) *CircuitBreaker {
	cb.maxFailures = max(1, n)
	return cb
}

// WithCooldown sets the cooldown period after tripping.
func (cb *CircuitBreaker) WithCooldown(d time.Duration) *CircuitBreaker {
	cb.cooldownPeriod = d
	return cb
}

// Allow reports whether a call may proceed. An open breaker lets one trial call
// through once the cooldown has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.tripTime) >= cb.cooldownPeriod {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Record reports the outcome of an allowed call.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		if cb.state != CircuitClosed && cb.OnReset != nil {
			go cb.OnReset()
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != CircuitOpen && cb.OnTrip != nil {
			go cb.OnTrip(cb.failures)
		}
		cb.state = CircuitOpen
		cb.tripTime = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Policy controls retries of one operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries three times with delays growing from half a second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// delay is the full-jitter backoff before attempt (1-based retry number).
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d/2+1)
}

// Retry calls op until it succeeds, returns an error that is not retryable,
// or runs out of attempts. A non-nil breaker gates every attempt.
func Retry(ctx context.Context, p Policy, cb *CircuitBreaker, op func(ctx context.Context) error) error {
	attempts := max(1, p.MaxAttempts)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cb != nil && !cb.Allow() {
			return bferrors.New(bferrors.CodeUnavailable, "too many consecutive failures, backing off").
				With("state", cb.State().String())
		}
		err = op(ctx)
		if cb != nil {
			cb.Record(err == nil || !bferrors.IsRetryable(err))
		}
		if err == nil || !bferrors.IsRetryable(err) || attempt == attempts {
			return err
		}

		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return bferrors.Canceled("retry", ctx.Err())
		case <-t.C:
		}
	}
	return err
}
