package memory

import (
	"context"
	"sync"

	"github.com/victoralfred/um_tracker/internal/domain/session"
)

// Storage implements session.Storage in process memory. Nothing survives a
// restart, which makes it the storage of choice for hosts without a
// persistence layer and for tests.
type Storage struct {
	mu     sync.RWMutex
	scopes map[session.Scope]map[string]string
}

// NewStorage creates an empty in-memory storage
func NewStorage() *Storage {
	return &Storage{
		scopes: map[session.Scope]map[string]string{
			session.ScopeSession: {},
			session.ScopeDurable: {},
		},
	}
}

// Get returns the value stored under key
func (s *Storage) Get(_ context.Context, scope session.Scope, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][key]
	return v, ok, nil
}

// Set stores a value under key
func (s *Storage) Set(_ context.Context, scope session.Scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes[scope] == nil {
		s.scopes[scope] = map[string]string{}
	}
	s.scopes[scope][key] = value
	return nil
}

// Remove deletes key
func (s *Storage) Remove(_ context.Context, scope session.Scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes[scope], key)
	return nil
}

// ClearSession drops every session-scoped value, as when a browser tab closes
func (s *Storage) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[session.ScopeSession] = map[string]string{}
}

// Len returns the number of keys in a scope
func (s *Storage) Len(scope session.Scope) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes[scope])
}
