package config

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/feature"
)

// Flag keys consulted by Provider
const (
	FlagAnalyticsEnabled = "analytics.enabled"
	flagEventTypePrefix  = "analytics.event."
)

// EventTypeFlagKey returns the kill-switch flag key for an event type
func EventTypeFlagKey(eventType analytics.EventType) string {
	return flagEventTypePrefix + string(eventType)
}

// Provider implements analytics.ConfigProvider over AnalyticsConfig.
// Flags registered in the evaluator can switch analytics or single event
// types off (or on again) without touching the allow-lists.
type Provider struct {
	cfg        AnalyticsConfig
	eventTypes map[analytics.EventType]bool
	dimensions map[analytics.Dimension]bool
	metrics    map[analytics.Metric]bool
	flags      *feature.Evaluator
	clock      clockwork.Clock

	mu       sync.RWMutex
	identity string
}

// NewProvider creates a config provider. flags may be nil.
func NewProvider(cfg AnalyticsConfig, flags *feature.Evaluator, clock clockwork.Clock) (*Provider, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if flags == nil {
		flags = feature.NewEvaluator()
	}
	for i := range cfg.Flags {
		if err := flags.AddFlag(&cfg.Flags[i]); err != nil {
			return nil, err
		}
	}

	p := &Provider{
		cfg:        cfg,
		eventTypes: make(map[analytics.EventType]bool, len(cfg.EnabledEventTypes)),
		dimensions: make(map[analytics.Dimension]bool, len(cfg.EnabledDimensions)),
		metrics:    make(map[analytics.Metric]bool, len(cfg.EnabledMetrics)),
		flags:      flags,
		clock:      clock,
	}
	for _, t := range cfg.EnabledEventTypes {
		p.eventTypes[analytics.EventType(t)] = true
	}
	for _, d := range cfg.EnabledDimensions {
		p.dimensions[analytics.Dimension(d)] = true
	}
	for _, m := range cfg.EnabledMetrics {
		p.metrics[analytics.Metric(m)] = true
	}
	return p, nil
}

// Flags returns the evaluator backing the provider
func (p *Provider) Flags() *feature.Evaluator {
	return p.flags
}

// SetUserID sets the identity flag rollouts and overrides are evaluated for.
// It makes Provider an analytics.IdentityBinder.
func (p *Provider) SetUserID(_ context.Context, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = identity
	return nil
}

func (p *Provider) evalContext() feature.EvaluationContext {
	p.mu.RLock()
	identity := p.identity
	p.mu.RUnlock()

	return feature.EvaluationContext{
		Identity:  identity,
		GroupIDs:  p.cfg.FlagGroups,
		Timestamp: p.clock.Now(),
	}
}

// IsAnalyticsEnabled requires the analytics consent flag when consent is enforced
func (p *Provider) IsAnalyticsEnabled(consent analytics.ConsentStatus) bool {
	if !p.cfg.Enabled {
		return false
	}
	if p.cfg.RequireConsent && !consent.Granted(analytics.ConsentAnalytics) {
		return false
	}
	return p.flags.IsEnabled(FlagAnalyticsEnabled, p.evalContext(), true)
}

func (p *Provider) IsEventTypeEnabled(eventType analytics.EventType) bool {
	if !p.eventTypes[eventType] {
		return false
	}
	return p.flags.IsEnabled(EventTypeFlagKey(eventType), p.evalContext(), true)
}

func (p *Provider) IsDimensionEnabled(dimension analytics.Dimension) bool {
	return p.dimensions[dimension]
}

func (p *Provider) IsMetricEnabled(metric analytics.Metric) bool {
	return p.metrics[metric]
}

func (p *Provider) SessionSettings() analytics.SessionSettings {
	return analytics.SessionSettings{
		Timeout:         p.cfg.SessionTimeout,
		RefreshOnReload: p.cfg.RefreshOnReload,
	}
}

func (p *Provider) SamplingSettings() analytics.SamplingSettings {
	return analytics.SamplingSettings{
		Rate:       p.cfg.SamplingRate,
		Consistent: p.cfg.ConsistentSampling,
	}
}

func (p *Provider) MaxEventsPerSession() int {
	return p.cfg.MaxEventsPerSession
}

func (p *Provider) Providers() []analytics.ProviderConfig {
	out := make([]analytics.ProviderConfig, len(p.cfg.Providers))
	copy(out, p.cfg.Providers)
	return out
}

func (p *Provider) RetryPolicy() analytics.RetryPolicy {
	r := p.cfg.Retry
	return analytics.RetryPolicy{
		MaxQueueSize:    r.MaxQueueSize,
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
		Jitter:          r.Jitter,
		FlushInterval:   r.FlushInterval,
	}
}

// DispatchTimeout bounds a single provider send
func (p *Provider) DispatchTimeout() time.Duration {
	return p.cfg.DispatchTimeout
}
