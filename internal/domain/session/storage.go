package session

import (
	"context"
)

// Scope selects the lifetime of a stored value
type Scope int

const (
	// ScopeSession values live as long as the client session
	ScopeSession Scope = iota
	// ScopeDurable values are kept indefinitely
	ScopeDurable
)

// String returns the scope name used in storage keys
func (s Scope) String() string {
	if s == ScopeDurable {
		return "durable"
	}
	return "session"
}

// Storage keys
const (
	KeySessionID     = "analytics_session_id"
	KeySessionStart  = "analytics_session_start"
	KeyLastActivity  = "analytics_last_activity"
	KeyEventCount    = "analytics_event_count"
	KeyPageViewCount = "analytics_page_view_count"
	KeyCurrentPath   = "analytics_current_path"
	KeyPreviousPath  = "analytics_previous_path"
	KeyFirstSession  = "analytics_is_first_session"
	KeyUTM           = "analytics_utm"
	KeyAnonymousID   = "analytics_anonymous_id"
	KeyHasHadSession = "analytics_has_had_session"
)

// Storage defines the key-value storage used to persist session continuity
// and identity
type Storage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, scope Scope, key string) (value string, ok bool, err error)

	// Set stores value under key
	Set(ctx context.Context, scope Scope, key, value string) error

	// Remove deletes key
	Remove(ctx context.Context, scope Scope, key string) error
}
