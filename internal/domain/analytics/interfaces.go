package analytics

import (
	"context"
)

// ConfigProvider supplies tracking configuration. Implementations are
// queried synchronously on every tracking call and must be cheap.
type ConfigProvider interface {
	// IsAnalyticsEnabled is the global gate derived from consent flags
	IsAnalyticsEnabled(consent ConsentStatus) bool

	IsEventTypeEnabled(eventType EventType) bool
	IsDimensionEnabled(dimension Dimension) bool
	IsMetricEnabled(metric Metric) bool

	SessionSettings() SessionSettings
	SamplingSettings() SamplingSettings
	MaxEventsPerSession() int

	// Providers returns the provider list in declaration order
	Providers() []ProviderConfig

	RetryPolicy() RetryPolicy
}

// Provider delivers events to one analytics backend
type Provider interface {
	Name() string

	// Initialize bootstraps the backend. A provider that fails here is
	// excluded for the lifetime of the service.
	Initialize(ctx context.Context) error

	Send(ctx context.Context, event *Event) error
}

// IdentityBinder is implemented by providers that support explicit user binding
type IdentityBinder interface {
	SetUserID(ctx context.Context, userID string) error
}

// Closer is implemented by providers holding connections
type Closer interface {
	Close(ctx context.Context) error
}

// Viewport is the visible area of the client
type Viewport struct {
	Width  int
	Height int
}

// Environment exposes page and client context of the host at call time
type Environment interface {
	URL() string
	Title() string
	Referrer() string
	UserAgent() string
	Viewport() Viewport
	Language() string
}

// PathFollower is implemented by environments that move along with paths
// reported through a Navigator
type PathFollower interface {
	FollowPath(path string)
}

// NavigationListener receives navigation notifications from the host
type NavigationListener interface {
	HandleLocationChange(ctx context.Context, path string)
	HandlePageExit(ctx context.Context)
}

// Navigator is implemented by hosts that can report navigation. Subscribe
// returns a function that removes the listener.
type Navigator interface {
	Subscribe(listener NavigationListener) (unsubscribe func())
}

// JourneyTracker is an extension point for multi-step journey tracking
type JourneyTracker interface {
	Update(ctx context.Context, event *Event)
}

// NoopJourneyTracker ignores every event
type NoopJourneyTracker struct{}

// Update does nothing
func (NoopJourneyTracker) Update(context.Context, *Event) {}
