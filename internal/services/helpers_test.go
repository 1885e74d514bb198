package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/um_tracker/internal/config"
	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/infrastructure/memory"
)

var errSendFailed = errors.New("collector unavailable")

// MockProvider is a mock implementation of analytics.Provider
type MockProvider struct {
	mock.Mock
	name string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) Send(ctx context.Context, event *analytics.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockBindingProvider also implements analytics.IdentityBinder and analytics.Closer
type MockBindingProvider struct {
	MockProvider
}

func (m *MockBindingProvider) SetUserID(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockBindingProvider) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// recordingProvider keeps every delivered event. Failures are switched on
// and off with setFailing.
type recordingProvider struct {
	name string

	mu      sync.Mutex
	events  []*analytics.Event
	failing bool
	panics  bool
}

func newRecordingProvider(name string) *recordingProvider {
	return &recordingProvider{name: name}
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Initialize(context.Context) error { return nil }

func (p *recordingProvider) Send(_ context.Context, event *analytics.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics {
		panic("provider exploded")
	}
	if p.failing {
		return errSendFailed
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProvider) setFailing(failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = failing
}

func (p *recordingProvider) received() []*analytics.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*analytics.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingProvider) last(t *testing.T) *analytics.Event {
	t.Helper()
	events := p.received()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

// builderFor resolves configured provider names to the given instances
func builderFor(providers ...analytics.Provider) ProviderBuilder {
	byName := make(map[string]analytics.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return func(cfg analytics.ProviderConfig) (analytics.Provider, error) {
		if p, ok := byName[cfg.Name]; ok {
			return p, nil
		}
		return nil, analytics.ErrProviderNotRegistered
	}
}

// testAnalyticsConfig returns an open configuration: analytics on without
// consent, no sampling, every key allow-listed and a retry backoff of one second.
func testAnalyticsConfig(providerNames ...string) config.AnalyticsConfig {
	cfg := config.Default().Analytics
	cfg.RequireConsent = false
	cfg.Retry.Jitter = 0
	cfg.Retry.InitialInterval = time.Second
	for _, name := range providerNames {
		cfg.Providers = append(cfg.Providers, analytics.ProviderConfig{Name: name, Enabled: true})
	}
	return cfg
}

func newConfigProvider(t *testing.T, cfg config.AnalyticsConfig, clock clockwork.Clock) *config.Provider {
	t.Helper()
	p, err := config.NewProvider(cfg, nil, clock)
	require.NoError(t, err)
	return p
}

type testHarness struct {
	service *AnalyticsService
	storage *memory.Storage
	clock   *clockwork.FakeClock
	env     *analytics.StaticEnvironment
}

func newTestHarness(t *testing.T, cfg config.AnalyticsConfig, providers []analytics.Provider, opts ...Option) *testHarness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	storage := memory.NewStorage()
	env := analytics.NewStaticEnvironment(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"en-GB",
		analytics.Viewport{Width: 1440, Height: 900},
	)
	env.Navigate("https://example.com/", "Home")

	base := []Option{
		WithClock(clock),
		WithEnvironment(env),
		WithProviderBuilder(builderFor(providers...)),
		WithRandom(func() float64 { return 0 }),
	}
	svc := NewAnalyticsService(newConfigProvider(t, cfg, clock), storage, append(base, opts...)...)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &testHarness{service: svc, storage: storage, clock: clock, env: env}
}
