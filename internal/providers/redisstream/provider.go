// Package redisstream publishes events to Redis streams, one stream per event type.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// Name is the provider name used in configuration
const Name = "redis_stream"

// DefaultStreamPrefix is prepended to the event type to form the stream key
const DefaultStreamPrefix = "analytics:stream:"

// Provider appends events with XADD
type Provider struct {
	client redis.UniversalClient
	owned  bool
	prefix string
	maxLen int64
}

// New creates a stream provider. When the addr option is set the provider
// opens its own connection, otherwise it publishes through shared.
func New(cfg analytics.ProviderConfig, shared redis.UniversalClient) (*Provider, error) {
	p := &Provider{
		prefix: cfg.StringOption("stream_prefix", DefaultStreamPrefix),
		maxLen: int64(cfg.IntOption("max_len", 0)),
	}

	if addr := cfg.StringOption("addr", ""); addr != "" {
		p.client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.StringOption("password", cfg.APIKey),
			DB:       cfg.IntOption("db", 0),
		})
		p.owned = true
		return p, nil
	}
	if shared == nil {
		return nil, fmt.Errorf("%w: %s requires an addr option or a shared client", analytics.ErrProviderMisconfigured, Name)
	}
	p.client = shared
	return p, nil
}

// NewWithClient creates a stream provider over client without taking ownership
func NewWithClient(client redis.UniversalClient, prefix string) *Provider {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &Provider{client: client, prefix: prefix}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Initialize verifies the connection
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// StreamKey returns the stream an event type is published to
func (p *Provider) StreamKey(eventType analytics.EventType) string {
	return p.prefix + string(eventType)
}

// Send publishes event as a JSON payload in the data field
func (p *Provider) Send(ctx context.Context, event *analytics.Event) error {
	if event == nil {
		return analytics.ErrEventRequired
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.StreamKey(event.Type),
		Values: map[string]interface{}{
			"id":   event.ID,
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: failed to publish event: %v", analytics.ErrDeliveryFailed, err)
	}
	return nil
}

// Close closes the connection if the provider opened it
func (p *Provider) Close(_ context.Context) error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
