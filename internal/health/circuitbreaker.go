package health

import (
	"sync"
	"time"

	"github.com/cr0hn/devproxy/internal/metrics"
)

// CBState represents the circuit breaker state.
type CBState int

const (
	// CBClosed means forwarding to the target is allowed.
	CBClosed CBState = iota
	// CBOpen means forwarding is short-circuited without contacting the target.
	CBOpen
	// CBHalfOpen means requests are allowed through to test recovery until
	// SuccessThreshold successes close the circuit or a failure reopens it.
	CBHalfOpen
)

// String returns the state name.
func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive forwarding failures before opening.
	FailureThreshold int
	// SuccessThreshold is half-open successes required before closing.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before half-open.
	Timeout time.Duration
}

// CircuitBreaker guards forwarding to the single target. Unlike the
// per-outbound-IP breaker it is adapted from, there is exactly one
// state machine, since this proxy has one fixed target rather than a
// pool of candidates to isolate independently.
type CircuitBreaker struct {
	mu          sync.RWMutex
	config      CircuitBreakerConfig
	state       CBState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	metrics.CircuitBreakerState.Set(float64(CBClosed))
	return &CircuitBreaker{config: config, state: CBClosed}
}

// setState transitions the breaker to state and mirrors it on the
// devproxy_circuit_breaker_state gauge. Caller must hold cb.mu.
func (cb *CircuitBreaker) setState(state CBState) {
	cb.state = state
	metrics.CircuitBreakerState.Set(float64(state))
}

// Allow reports whether a forwarding attempt should proceed. When open
// and the timeout has elapsed, it transitions to half-open; while
// half-open, every request is allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		return true
	case CBOpen:
		if time.Since(cb.lastFailure) >= cb.config.Timeout {
			cb.setState(CBHalfOpen)
			cb.successes = 0
			return true
		}
		return false
	case CBHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful forward.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(CBClosed)
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed forward.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(CBOpen)
		}
	case CBHalfOpen:
		cb.setState(CBOpen)
		cb.successes = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
