// Package circuitbreaker provides a consecutive-failure circuit breaker that
// isolates the exporter from a failing upstream agent. Calls are rejected
// immediately while the circuit is open, and a single probe is let through
// once the recovery timeout has elapsed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; one call allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Call when the circuit is open and the recovery
// timeout has not yet elapsed. The wrapped operation is not invoked.
var ErrOpen = errors.New("circuit breaker open")

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Breaker trips open after failureThreshold consecutive failures and lets a
// single probe through once recoveryTimeout has elapsed since the last
// failure. It performs no logging and no retries; both are the caller's
// concern.
type Breaker struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	lastFailure         time.Time

	failureThreshold int
	recoveryTimeout  time.Duration
}

// New creates a closed Breaker. Non-positive arguments fall back to the
// package defaults.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Call executes op and records its outcome. While the circuit is open and
// the recovery timeout has not elapsed, Call returns ErrOpen without
// invoking op. In all other cases op's error is returned unwrapped.
func (b *Breaker) Call(op func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) > b.recoveryTimeout {
			b.state = StateHalfOpen
		} else {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	b.mu.Unlock()

	// The operation runs without the lock held; concurrent callers racing a
	// half-open probe are tolerated (the counters are best-effort).
	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// recordSuccess resets the failure count and closes the circuit.
// Must be called with b.mu held.
func (b *Breaker) recordSuccess() {
	b.consecutiveFailures = 0
	b.state = StateClosed
}

// recordFailure stamps the failure instant, bumps the count, and opens the
// circuit when the threshold is reached. A half-open probe failure reopens
// immediately. Must be called with b.mu held.
func (b *Breaker) recordFailure() {
	b.consecutiveFailures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
	}
}
