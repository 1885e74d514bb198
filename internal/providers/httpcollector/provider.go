// Package httpcollector posts events as JSON to an HTTP collector endpoint.
package httpcollector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// Name is the provider name used in configuration
const Name = "http"

// APIKeyHeader carries the provider api key
const APIKeyHeader = "X-API-Key"

// Provider sends one request per event
type Provider struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// New creates an HTTP provider. client may be nil.
func New(cfg analytics.ProviderConfig, client *http.Client, logger *zap.Logger) (*Provider, error) {
	endpoint := cfg.StringOption("endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: %s requires an endpoint", analytics.ErrProviderMisconfigured, Name)
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.DurationOption("timeout", 5*time.Second),
		client:   client,
		logger:   logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Initialize validates the endpoint
func (p *Provider) Initialize(_ context.Context) error {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", analytics.ErrProviderMisconfigured, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported endpoint scheme %q", analytics.ErrProviderMisconfigured, u.Scheme)
	}
	return nil
}

// Send posts event. Page exits are sent detached from the caller's
// cancellation so they survive the page going away.
func (p *Provider) Send(ctx context.Context, event *analytics.Event) error {
	if event == nil {
		return analytics.ErrEventRequired
	}

	if event.Type == analytics.EventTypePageExit {
		ctx = context.WithoutCancel(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set(APIKeyHeader, p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", analytics.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: collector responded %d", analytics.ErrDeliveryFailed, resp.StatusCode)
	}

	p.logger.Debug("Event posted",
		zap.String("event_id", event.ID),
		zap.Int("status", resp.StatusCode))
	return nil
}
