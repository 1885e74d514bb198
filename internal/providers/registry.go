// Package providers maps configured provider names to constructors.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/providers/clickhouse"
	"github.com/victoralfred/um_tracker/internal/providers/httpcollector"
	"github.com/victoralfred/um_tracker/internal/providers/postgres"
	"github.com/victoralfred/um_tracker/internal/providers/redisstream"
	"github.com/victoralfred/um_tracker/internal/providers/tagmanager"
)

// Dependencies are handed to every factory. Unused fields may be nil.
type Dependencies struct {
	Logger       *zap.Logger
	HTTPClient   *http.Client
	Redis        redis.UniversalClient
	DataLayer    tagmanager.DataLayer
	ScriptLoader tagmanager.ScriptLoader
}

// Factory builds a provider from its configuration
type Factory func(cfg analytics.ProviderConfig, deps Dependencies) (analytics.Provider, error)

// Registry holds provider factories by name
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry with every built-in provider
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(tagmanager.Name, func(cfg analytics.ProviderConfig, deps Dependencies) (analytics.Provider, error) {
		return tagmanager.New(cfg, deps.DataLayer, deps.ScriptLoader)
	})
	r.Register(httpcollector.Name, func(cfg analytics.ProviderConfig, deps Dependencies) (analytics.Provider, error) {
		return httpcollector.New(cfg, deps.HTTPClient, deps.Logger)
	})
	r.Register(redisstream.Name, func(cfg analytics.ProviderConfig, deps Dependencies) (analytics.Provider, error) {
		return redisstream.New(cfg, deps.Redis)
	})
	r.Register(clickhouse.Name, func(cfg analytics.ProviderConfig, _ Dependencies) (analytics.Provider, error) {
		return clickhouse.New(cfg)
	})
	r.Register(postgres.Name, func(cfg analytics.ProviderConfig, _ Dependencies) (analytics.Provider, error) {
		return postgres.New(cfg)
	})
	return r
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the provider named by cfg
func (r *Registry) Build(cfg analytics.ProviderConfig, deps Dependencies) (analytics.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", analytics.ErrProviderNotRegistered, cfg.Name)
	}
	if deps.Logger != nil {
		deps.Logger = deps.Logger.Named(cfg.Name)
	}
	return factory(cfg, deps)
}

// Builder binds deps to the registry for use by the analytics service
func (r *Registry) Builder(deps Dependencies) func(cfg analytics.ProviderConfig) (analytics.Provider, error) {
	return func(cfg analytics.ProviderConfig) (analytics.Provider, error) {
		return r.Build(cfg, deps)
	}
}
