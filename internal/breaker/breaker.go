// Package breaker guards a collection fetch path after repeated failures.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers that refuse work while the circuit is open.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means requests flow normally.
	StateClosed State = iota
	// StateOpen means requests are refused until the cool-down elapses.
	StateOpen
	// StateHalfOpen means a single probe request is allowed through.
	StateHalfOpen
)

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

const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
)

// Options configures the circuit breaker.
type Options struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// OnStateChange, if set, is called with the lock released.
	OnStateChange func(from, to State)

	now func() time.Time
}

// CircuitBreaker is a closed/open/half-open state machine.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	threshold    int
	cooldown     time.Duration
	openedAt     time.Time
	probing      bool
	onChange     func(from, to State)
	now          func() time.Time
}

// New creates a circuit breaker in the closed state.
func New(opts Options) *CircuitBreaker {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	return &CircuitBreaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		onChange:  opts.OnStateChange,
		now:       now,
	}
}

// Allow reports whether a request may proceed. Once the cool-down has elapsed
// the first caller becomes the half-open probe; others are refused until the
// probe is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !cb.probing {
			cb.probing = true
			allowed = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.probing = false
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// RecordFailure counts a failure. It returns true when this failure opened
// the circuit.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount++

	opened := false
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.threshold {
			cb.trip()
			opened = true
		}
	case StateHalfOpen:
		cb.trip()
		opened = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return opened
}

// trip must be called with the lock held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failureCount = 0
	cb.probing = false
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.RecordSuccess()
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count since the last transition.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// RetryAfter returns the remaining cool-down, or zero when not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.cooldown - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}
