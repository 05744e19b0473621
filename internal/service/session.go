package service

import "sync"

// Session is a user-opaque value passed by reference into every
// RequestContext; its lifetime spans the host. It is modeled as a
// guarded key/value bag rather than a concrete struct since the core has
// no opinion on what an embedder wants to carry in it.
type Session struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{data: make(map[string]any)}
}

// Set stores a value under key.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get retrieves the value stored under key, if any.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Delete removes key from the session.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}
