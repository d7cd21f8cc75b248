package session

import (
	"errors"
	"fmt"
	"sync"
)

// Registry maintains the connection-ID → session table of a server. It is the
// only state shared between connection handlers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Machine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Machine),
	}
}

// Register stores s under id. It fails if id is already present.
func (r *Registry) Register(id string, s *Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.sessions[id] = s
	return nil
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id from the registry. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll removes and closes every registered session. Sessions are closed
// outside the lock so their own teardown may call Remove.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Machine, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}
