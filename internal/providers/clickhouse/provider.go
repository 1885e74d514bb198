// Package clickhouse stores events in a ClickHouse table.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// Name is the provider name used in configuration
const Name = "clickhouse"

const defaultTable = "analytics_events"

// Conn is the part of clickhouse.Conn the provider uses
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a connection
type Dialer func(opts *ch.Options) (Conn, error)

// Provider inserts one row per event
type Provider struct {
	opts        *ch.Options
	table       string
	createTable bool
	dial        Dialer
	conn        Conn
}

// New creates a ClickHouse provider from the addr, database, username,
// password and table options
func New(cfg analytics.ProviderConfig) (*Provider, error) {
	addr := cfg.StringOption("addr", "")
	if addr == "" {
		return nil, fmt.Errorf("%w: %s requires an addr", analytics.ErrProviderMisconfigured, Name)
	}
	table := cfg.StringOption("table", defaultTable)
	if strings.ContainsAny(table, " ;`'\"") {
		return nil, fmt.Errorf("%w: invalid table name %q", analytics.ErrProviderMisconfigured, table)
	}

	opts := &ch.Options{
		Addr: strings.Split(addr, ","),
		Auth: ch.Auth{
			Database: cfg.StringOption("database", "default"),
			Username: cfg.StringOption("username", "default"),
			Password: cfg.StringOption("password", cfg.APIKey),
		},
		ClientInfo: ch.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "um-tracker", Version: "1.0.0"}},
		},
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
		DialTimeout: cfg.DurationOption("dial_timeout", 5*time.Second),
	}

	return &Provider{
		opts:        opts,
		table:       table,
		createTable: cfg.BoolOption("create_table", false),
		dial: func(o *ch.Options) (Conn, error) {
			return ch.Open(o)
		},
	}, nil
}

// NewWithConn creates a provider over an open connection
func NewWithConn(conn Conn, table string) *Provider {
	if table == "" {
		table = defaultTable
	}
	return &Provider{table: table, conn: conn}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Initialize opens the connection and optionally creates the table
func (p *Provider) Initialize(ctx context.Context) error {
	if p.conn == nil {
		conn, err := p.dial(p.opts)
		if err != nil {
			return fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		p.conn = conn
	}
	if err := p.conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if p.createTable {
		if err := p.conn.Exec(ctx, p.createTableQuery()); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (p *Provider) createTableQuery() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id String,
			event_type LowCardinality(String),
			user_id String,
			session_id String,
			timestamp DateTime64(3, 'UTC'),
			properties String,
			dimensions String,
			metrics String
		) ENGINE = MergeTree()
		ORDER BY (event_type, timestamp)`, p.table)
}

// Send inserts event. Maps are stored as JSON strings.
func (p *Provider) Send(ctx context.Context, event *analytics.Event) error {
	if event == nil {
		return analytics.ErrEventRequired
	}
	if p.conn == nil {
		return analytics.ErrProviderNotInitialized
	}

	props, dims, metrics, err := encodeMaps(event)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			event_id, event_type, user_id, session_id, timestamp, properties, dimensions, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, p.table)

	if err := p.conn.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.UserID,
		event.SessionID,
		event.Timestamp,
		props,
		dims,
		metrics,
	); err != nil {
		return fmt.Errorf("%w: failed to insert event: %v", analytics.ErrDeliveryFailed, err)
	}
	return nil
}

// Close closes the connection
func (p *Provider) Close(_ context.Context) error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func encodeMaps(event *analytics.Event) (string, string, string, error) {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	dims, err := json.Marshal(event.Dimensions)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal dimensions: %w", err)
	}
	metrics, err := json.Marshal(event.Metrics)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return string(props), string(dims), string(metrics), nil
}
