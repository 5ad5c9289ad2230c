package sqlite

import (
	"errors"
	"sync"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	StateClosed   BreakerState = 0
	StateOpen     BreakerState = 1
	StateHalfOpen BreakerState = 2
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a 3-state breaker in front of the store:
// CLOSED (normal) -> OPEN (failing) -> HALF_OPEN (probing) -> CLOSED.
// Only errors accepted by isFailure count toward tripping it; a refused claim
// or a missing review is a normal answer, not a sick database.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	isFailure    func(error) bool
	onChange     func(from, to BreakerState)
	nowFunc      func() time.Time // for testing
}

// NewCircuitBreaker creates a circuit breaker with the given threshold and
// reset timeout that counts infrastructure errors only.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		isFailure:    IsInfrastructureError,
		nowFunc:      time.Now,
	}
}

// OnStateChange registers fn to run on every transition. It is called with
// the breaker lock held and must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
	return cb
}

// IsInfrastructureError reports whether err came from the database rather
// than from a domain rule.
func IsInfrastructureError(err error) bool {
	if err == nil {
		return false
	}
	for _, domain := range []error{core.ErrNotFound, core.ErrConflict, core.ErrUnauthorized, core.ErrInvalidRequest} {
		if errors.Is(err, domain) {
			return false
		}
	}
	return true
}

// Execute runs fn through the circuit breaker. While open it fails fast with
// ErrCircuitOpen; once resetTimeout has passed a single call probes the
// store and its outcome closes or reopens the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		return true
	default:
		// a probe is already in flight
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	failed := cb.isFailure(err)
	switch {
	case cb.state == StateHalfOpen && failed:
		cb.trip()
	case cb.state == StateHalfOpen:
		cb.failures = 0
		cb.transition(StateClosed)
	case failed:
		cb.failures++
		if cb.failures >= cb.threshold && cb.state == StateClosed {
			cb.trip()
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.nowFunc()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
