package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// EnsureSchema creates the monitor tables when they do not exist yet.
func (d *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			sid TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			status TEXT,
			error_code TEXT,
			message TEXT,
			from_number TEXT,
			to_number TEXT,
			raw JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL DEFAULT '',
			pattern_kind TEXT NOT NULL,
			pattern_value TEXT NOT NULL DEFAULT '',
			threshold_count INT NOT NULL DEFAULT 0,
			threshold_window_seconds INT NOT NULL DEFAULT 0,
			clear_on_match BOOLEAN NOT NULL DEFAULT FALSE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id UUID PRIMARY KEY,
			rule_id UUID NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			config JSONB NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_rule_id ON actions (rule_id)`,
		`CREATE TABLE IF NOT EXISTS dispatch_records (
			id UUID PRIMARY KEY,
			rule_id UUID NOT NULL,
			event_sid TEXT NOT NULL,
			action_id UUID NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			first_attempt_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			UNIQUE (rule_id, event_sid, action_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_records_status ON dispatch_records (status)`,
	}

	for _, stmt := range statements {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
