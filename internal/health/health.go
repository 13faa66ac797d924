// Package health tracks the service's degraded state. Missing connection
// strings do not crash the process; they park it here, where the health
// endpoint makes the condition visible to operators.
package health

import "sync"

type State struct {
	mu       sync.RWMutex
	degraded bool
	reason   string
}

func NewState() *State { return &State{} }

// SetDegraded marks the service degraded with an operator-readable reason.
// A degraded service stays up and serves its admin API but consumes nothing.
func (s *State) SetDegraded(reason string) {
	s.mu.Lock()
	s.degraded = true
	s.reason = reason
	s.mu.Unlock()
}

// Degraded reports the current state and its reason.
func (s *State) Degraded() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded, s.reason
}
