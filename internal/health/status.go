// Package health monitors the availability of the single target process
// this proxy forwards to, and circuit-breaks forwarding around
// transport failures. Adapted from a per-outbound-IP health tracker to
// a single fixed target, since spec.md has exactly one target rather
// than a pool to select among.
package health

import (
	"sync"
	"time"
)

// State represents the health state of the target.
type State int

const (
	// StateHealthy means the target is passing checks.
	StateHealthy State = iota
	// StateUnhealthy means the target has failed enough consecutive checks.
	StateUnhealthy
	// StateRecovering means the target is being retested after being unhealthy.
	StateRecovering
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// TargetStatus holds the current health status of the target.
type TargetStatus struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastError            error
	mu                   sync.RWMutex
}

// NewTargetStatus creates a TargetStatus starting in the healthy state.
func NewTargetStatus() *TargetStatus {
	return &TargetStatus{State: StateHealthy}
}

// GetState returns the current health state.
func (s *TargetStatus) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// IsHealthy returns true if the target is in a healthy state.
func (s *TargetStatus) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State == StateHealthy
}

// RecordSuccess records a successful health check. Returns true if the
// state changed.
func (s *TargetStatus) RecordSuccess(successThreshold int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastCheck = time.Now()
	s.LastError = nil
	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccesses++

	oldState := s.State
	switch s.State {
	case StateUnhealthy:
		s.State = StateRecovering
		s.ConsecutiveSuccesses = 1
	case StateRecovering:
		if s.ConsecutiveSuccesses >= successThreshold {
			s.State = StateHealthy
		}
	case StateHealthy:
	}
	return oldState != s.State
}

// RecordFailure records a failed health check. Returns true if the
// state changed.
func (s *TargetStatus) RecordFailure(err error, failureThreshold int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastCheck = time.Now()
	s.LastError = err
	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++

	oldState := s.State
	switch s.State {
	case StateHealthy:
		if s.ConsecutiveFailures >= failureThreshold {
			s.State = StateUnhealthy
		}
	case StateRecovering:
		s.State = StateUnhealthy
	case StateUnhealthy:
	}
	return oldState != s.State
}

// Info returns a serializable snapshot of the status, exposed via
// /_chopin/status.
func (s *TargetStatus) Info() StatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastErr string
	if s.LastError != nil {
		lastErr = s.LastError.Error()
	}

	return StatusInfo{
		State:                s.State.String(),
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		LastCheck:            s.LastCheck,
		LastError:            lastErr,
	}
}

// StatusInfo is a serializable representation of TargetStatus.
type StatusInfo struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	LastCheck            time.Time `json:"lastCheck"`
	LastError            string    `json:"lastError,omitempty"`
}
