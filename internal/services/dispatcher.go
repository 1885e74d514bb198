package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// ProviderBuilder constructs a provider from its configuration
type ProviderBuilder func(cfg analytics.ProviderConfig) (analytics.Provider, error)

// DeliveryReport summarizes a queue drain
type DeliveryReport struct {
	Delivered int `json:"delivered"`
	Requeued  int `json:"requeued"`
	Deferred  int `json:"deferred"`
	Exhausted int `json:"exhausted"`
	Skipped   int `json:"skipped"`
}

// Dispatcher delivers events to every live provider and queues failures
// for redelivery to the provider that failed.
type Dispatcher struct {
	mu      sync.RWMutex
	live    map[string]analytics.Provider
	config  analytics.ConfigProvider
	queue   *RetryQueue
	metrics *Metrics
	logger  *zap.Logger
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds each provider send.
func NewDispatcher(
	config analytics.ConfigProvider,
	queue *RetryQueue,
	metrics *Metrics,
	logger *zap.Logger,
	timeout time.Duration,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		live:    make(map[string]analytics.Provider),
		config:  config,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
		timeout: timeout,
	}
}

// InitializeProviders bootstraps every enabled provider in declaration
// order. A provider that fails to build or initialize is logged and left
// out for the lifetime of the dispatcher.
func (d *Dispatcher) InitializeProviders(ctx context.Context, build ProviderBuilder) {
	for _, cfg := range d.config.Providers() {
		if !cfg.Enabled {
			continue
		}
		if d.IsLive(cfg.Name) {
			continue
		}

		provider, err := build(cfg)
		if err != nil {
			d.logger.Error("Failed to build analytics provider",
				zap.String("provider", cfg.Name),
				zap.Error(err))
			continue
		}
		if err := d.initialize(ctx, provider); err != nil {
			d.logger.Error("Failed to initialize analytics provider",
				zap.String("provider", cfg.Name),
				zap.Error(err))
			continue
		}

		d.mu.Lock()
		d.live[cfg.Name] = provider
		d.mu.Unlock()
		d.logger.Info("Analytics provider initialized", zap.String("provider", cfg.Name))
	}
}

func (d *Dispatcher) initialize(ctx context.Context, provider analytics.Provider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked during initialization: %v", r)
		}
	}()
	return provider.Initialize(ctx)
}

// IsLive reports whether the named provider initialized successfully
func (d *Dispatcher) IsLive(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.live[name]
	return ok
}

// LiveProviders returns the names of live providers in declaration order
func (d *Dispatcher) LiveProviders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for _, cfg := range d.config.Providers() {
		if _, ok := d.live[cfg.Name]; ok {
			names = append(names, cfg.Name)
		}
	}
	return names
}

// Dispatch sends event to every enabled live provider. A failing provider
// never prevents delivery to the others. It returns the providers that failed.
func (d *Dispatcher) Dispatch(ctx context.Context, event *analytics.Event) []string {
	var failed []string
	for _, cfg := range d.config.Providers() {
		if !cfg.Enabled {
			continue
		}
		provider := d.provider(cfg.Name)
		if provider == nil {
			continue
		}
		if err := d.send(ctx, provider, event); err != nil {
			d.logger.Error("Failed to deliver analytics event",
				zap.String("provider", cfg.Name),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			failed = append(failed, cfg.Name)

			if event.Type.IsExit() {
				continue
			}
			d.metrics.RetryEnqueued.Inc()
			if evicted := d.queue.Enqueue(event.Clone(), cfg.Name); evicted {
				d.metrics.RetryEvicted.Inc()
				d.logger.Warn("Retry queue full, evicted oldest entry")
			}
		}
	}
	d.metrics.QueueLength.Set(float64(d.queue.Len()))
	return failed
}

// ProcessQueue redelivers queued entries. Entries whose backoff has not
// elapsed are kept for a later drain unless force is set.
func (d *Dispatcher) ProcessQueue(ctx context.Context, force bool) DeliveryReport {
	var (
		report   DeliveryReport
		deferred []*RetryEntry
	)
	for _, entry := range d.queue.Drain() {
		if !force && !d.queue.Due(entry) {
			deferred = append(deferred, entry)
			report.Deferred++
			continue
		}

		provider := d.provider(entry.Provider)
		if provider == nil || !d.enabled(entry.Provider) {
			// Provider was switched off, so the entry has nowhere to go
			report.Skipped++
			continue
		}

		if err := d.send(ctx, provider, entry.Event); err != nil {
			requeued, evicted := d.queue.Requeue(entry)
			if evicted {
				d.metrics.RetryEvicted.Inc()
			}
			if !requeued {
				d.metrics.RetryExhausted.Inc()
				d.logger.Warn("Dropping analytics event after final retry",
					zap.String("provider", entry.Provider),
					zap.String("event_id", entry.Event.ID),
					zap.Int("attempts", entry.Attempts),
					zap.Error(err))
				report.Exhausted++
				continue
			}
			d.logger.Debug("Analytics event redelivery failed",
				zap.String("provider", entry.Provider),
				zap.String("event_id", entry.Event.ID),
				zap.Int("attempts", entry.Attempts),
				zap.Time("not_before", entry.NotBefore),
				zap.Error(err))
			report.Requeued++
			continue
		}
		report.Delivered++
	}
	if evicted := d.queue.Restore(deferred); evicted > 0 {
		d.metrics.RetryEvicted.Add(float64(evicted))
	}
	d.metrics.QueueLength.Set(float64(d.queue.Len()))
	return report
}

// send delivers one event to one provider, converting panics into errors
func (d *Dispatcher) send(ctx context.Context, provider analytics.Provider, event *analytics.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: provider panicked: %v", analytics.ErrDeliveryFailed, r)
		}
		result := "success"
		if err != nil {
			result = "failure"
		}
		d.metrics.ProviderSends.WithLabelValues(provider.Name(), result).Inc()
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return provider.Send(ctx, event)
}

// BindIdentity propagates userID to every live provider that supports it.
// An empty userID clears the binding.
func (d *Dispatcher) BindIdentity(ctx context.Context, userID string) {
	d.mu.RLock()
	binders := make(map[string]analytics.IdentityBinder)
	for name, p := range d.live {
		if b, ok := p.(analytics.IdentityBinder); ok {
			binders[name] = b
		}
	}
	d.mu.RUnlock()

	for name, b := range binders {
		if err := b.SetUserID(ctx, userID); err != nil {
			d.logger.Warn("Failed to bind user to analytics provider",
				zap.String("provider", name),
				zap.Error(err))
		}
	}
}

// Close releases providers that hold connections
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	live := d.live
	d.live = make(map[string]analytics.Provider)
	d.mu.Unlock()

	var err error
	for name, p := range live {
		if c, ok := p.(analytics.Closer); ok {
			if cerr := c.Close(ctx); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close provider %s: %w", name, cerr))
			}
		}
	}
	return err
}

func (d *Dispatcher) provider(name string) analytics.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.live[name]
}

func (d *Dispatcher) enabled(name string) bool {
	for _, cfg := range d.config.Providers() {
		if cfg.Name == name {
			return cfg.Enabled
		}
	}
	return false
}
