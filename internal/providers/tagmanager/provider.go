// Package tagmanager delivers events to a tag manager data layer hosted by
// the embedding application.
package tagmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// Name is the provider name used in configuration
const Name = "tag_manager"

const defaultScriptURL = "https://www.googletagmanager.com/gtag/js?id="

// DataLayer receives tag manager commands
type DataLayer interface {
	Push(ctx context.Context, entry []interface{}) error
}

// ScriptLoader loads the tag manager container. Loaded reports whether the
// container hook already exists so it is never loaded twice.
type ScriptLoader interface {
	Loaded(containerID string) bool
	Load(ctx context.Context, containerID, src string) error
}

// Provider pushes events to a DataLayer
type Provider struct {
	containerID string
	scriptURL   string
	layer       DataLayer
	loader      ScriptLoader

	mu          sync.Mutex
	initialized bool
}

// New creates a tag manager provider. The container id is taken from the
// api key, or from the container_id option.
func New(cfg analytics.ProviderConfig, layer DataLayer, loader ScriptLoader) (*Provider, error) {
	containerID := cfg.APIKey
	if containerID == "" {
		containerID = cfg.StringOption("container_id", "")
	}
	if containerID == "" {
		return nil, fmt.Errorf("%w: %s requires a container id", analytics.ErrProviderMisconfigured, Name)
	}
	if layer == nil {
		layer = NewMemoryDataLayer()
	}
	if loader == nil {
		loader = NewOnceLoader()
	}
	return &Provider{
		containerID: containerID,
		scriptURL:   cfg.StringOption("script_url", defaultScriptURL),
		layer:       layer,
		loader:      loader,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Initialize loads the container once and configures it. Automatic page
// views are disabled because page views are tracked explicitly.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	if !p.loader.Loaded(p.containerID) {
		if err := p.loader.Load(ctx, p.containerID, p.scriptURL+p.containerID); err != nil {
			return fmt.Errorf("failed to load tag manager container: %w", err)
		}
	}

	if err := p.layer.Push(ctx, []interface{}{"js", "init"}); err != nil {
		return err
	}
	if err := p.layer.Push(ctx, []interface{}{"config", p.containerID, map[string]interface{}{
		"anonymize_ip":   true,
		"send_page_view": false,
	}}); err != nil {
		return err
	}

	p.initialized = true
	return nil
}

// Send pushes an event command with properties, dimensions and metrics
// flattened into its parameters
func (p *Provider) Send(ctx context.Context, event *analytics.Event) error {
	if event == nil {
		return analytics.ErrEventRequired
	}
	p.mu.Lock()
	ready := p.initialized
	p.mu.Unlock()
	if !ready {
		return analytics.ErrProviderNotInitialized
	}

	params := make(map[string]interface{}, len(event.Properties)+len(event.Dimensions)+len(event.Metrics)+3)
	for k, v := range event.Properties {
		params[k] = v
	}
	for k, v := range event.Dimensions {
		params[string(k)] = v
	}
	for k, v := range event.Metrics {
		params[string(k)] = v
	}
	params["event_id"] = event.ID
	params["session_id"] = event.SessionID
	if event.UserID != "" {
		params["user_id"] = event.UserID
	}

	if err := p.layer.Push(ctx, []interface{}{"event", string(event.Type), params}); err != nil {
		return fmt.Errorf("%w: %v", analytics.ErrDeliveryFailed, err)
	}
	return nil
}

// SetUserID binds the container to a user. An empty id clears the binding.
func (p *Provider) SetUserID(ctx context.Context, userID string) error {
	var value interface{} = userID
	if userID == "" {
		value = nil
	}
	return p.layer.Push(ctx, []interface{}{"config", p.containerID, map[string]interface{}{
		"user_id": value,
	}})
}

// MemoryDataLayer keeps pushed commands in memory. Hosts read them with Entries.
type MemoryDataLayer struct {
	mu      sync.Mutex
	entries [][]interface{}
}

// NewMemoryDataLayer creates an empty data layer
func NewMemoryDataLayer() *MemoryDataLayer {
	return &MemoryDataLayer{}
}

// Push appends entry
func (l *MemoryDataLayer) Push(_ context.Context, entry []interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the pushed commands
func (l *MemoryDataLayer) Entries() [][]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]interface{}, len(l.entries))
	copy(out, l.entries)
	return out
}

// OnceLoader records which containers were loaded. It does not fetch
// anything itself; hosts that render pages wrap it with real loading.
type OnceLoader struct {
	mu     sync.Mutex
	loaded map[string]string
}

// NewOnceLoader creates an empty loader
func NewOnceLoader() *OnceLoader {
	return &OnceLoader{loaded: make(map[string]string)}
}

// Loaded reports whether containerID was loaded
func (l *OnceLoader) Loaded(containerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[containerID]
	return ok
}

// Load marks containerID as loaded from src
func (l *OnceLoader) Load(_ context.Context, containerID, src string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded[containerID] = src
	return nil
}

// Source returns the script source recorded for containerID
func (l *OnceLoader) Source(containerID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[containerID]
}
