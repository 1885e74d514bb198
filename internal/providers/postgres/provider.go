// Package postgres stores events in a PostgreSQL table through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// Name is the provider name used in configuration
const Name = "postgres"

const defaultTable = "analytics_events"

// DB is the part of *pgxpool.Pool the provider uses
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Provider inserts one row per event
type Provider struct {
	dsn         string
	maxConns    int
	lifetime    time.Duration
	table       string
	createTable bool
	db          DB
}

// New creates a PostgreSQL provider from the dsn, table, max_conns and
// max_conn_lifetime options
func New(cfg analytics.ProviderConfig) (*Provider, error) {
	dsn := cfg.StringOption("dsn", "")
	if dsn == "" {
		return nil, fmt.Errorf("%w: %s requires a dsn", analytics.ErrProviderMisconfigured, Name)
	}
	table := cfg.StringOption("table", defaultTable)
	if strings.ContainsAny(table, " ;`'\"") {
		return nil, fmt.Errorf("%w: invalid table name %q", analytics.ErrProviderMisconfigured, table)
	}
	return &Provider{
		dsn:         dsn,
		maxConns:    cfg.IntOption("max_conns", 0),
		lifetime:    cfg.DurationOption("max_conn_lifetime", 0),
		table:       table,
		createTable: cfg.BoolOption("create_table", false),
	}, nil
}

// NewWithDB creates a provider over an open pool
func NewWithDB(db DB, table string) *Provider {
	if table == "" {
		table = defaultTable
	}
	return &Provider{db: db, table: table}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Initialize opens the pool, verifies it and optionally creates the table
func (p *Provider) Initialize(ctx context.Context) error {
	if p.db == nil {
		poolConfig, err := pgxpool.ParseConfig(p.dsn)
		if err != nil {
			return fmt.Errorf("failed to parse connection string: %w", err)
		}
		if p.maxConns > 0 {
			poolConfig.MaxConns = int32(p.maxConns)
		}
		if p.lifetime > 0 {
			poolConfig.MaxConnLifetime = p.lifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		p.db = pool
	}

	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if p.createTable {
		if _, err := p.db.Exec(ctx, p.createTableQuery()); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (p *Provider) createTableQuery() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			user_id TEXT,
			session_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			properties JSONB,
			dimensions JSONB,
			metrics JSONB
		)`, p.table)
}

// Send inserts event. Redelivery of an event already stored is a no-op.
func (p *Provider) Send(ctx context.Context, event *analytics.Event) error {
	if event == nil {
		return analytics.ErrEventRequired
	}
	if p.db == nil {
		return analytics.ErrProviderNotInitialized
	}

	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	dims, err := json.Marshal(event.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to marshal dimensions: %w", err)
	}
	metrics, err := json.Marshal(event.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	var userID interface{}
	if event.UserID != "" {
		userID = event.UserID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, type, user_id, session_id, timestamp, properties, dimensions, metrics
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`, p.table)

	if _, err := p.db.Exec(ctx, query,
		event.ID,
		string(event.Type),
		userID,
		event.SessionID,
		event.Timestamp,
		string(props),
		string(dims),
		string(metrics),
	); err != nil {
		return fmt.Errorf("%w: failed to store event: %v", analytics.ErrDeliveryFailed, err)
	}
	return nil
}

// Close closes the pool
func (p *Provider) Close(_ context.Context) error {
	if p.db != nil {
		p.db.Close()
	}
	return nil
}
