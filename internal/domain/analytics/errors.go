package analytics

import "errors"

var (
	// ErrProviderNotRegistered is returned when no constructor exists for a provider name
	ErrProviderNotRegistered = errors.New("provider not registered")

	// ErrProviderNotInitialized is returned when a provider is used before Initialize
	ErrProviderNotInitialized = errors.New("provider not initialized")

	// ErrProviderMisconfigured is returned when required provider options are missing
	ErrProviderMisconfigured = errors.New("provider misconfigured")

	// ErrDeliveryFailed is returned when a provider rejects an event
	ErrDeliveryFailed = errors.New("event delivery failed")

	// ErrEventRequired is returned when event is nil
	ErrEventRequired = errors.New("event is required")

	// ErrStorageUnavailable is returned when a storage backend cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrServiceClosed is returned when the service has been closed
	ErrServiceClosed = errors.New("analytics service closed")
)
