// Package db provides PostgreSQL access for the catalog pipeline's metadata:
// source archives, update records, packaged archives and run history.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS source_archives (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		file_name TEXT NOT NULL,
		object_path TEXT NOT NULL,
		fingerprint TEXT,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		downloaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS updates (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		update_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT,
		classification TEXT,
		product TEXT,
		product_family TEXT,
		kb_article_id TEXT,
		security_bulletin_id TEXT,
		msrc_severity TEXT,
		categories TEXT[],
		is_superseded BOOLEAN NOT NULL DEFAULT FALSE,
		superseded_by TEXT[],
		release_date TIMESTAMPTZ,
		last_modified TIMESTAMPTZ,
		os_version TEXT,
		year INT,
		month INT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS packaged_archives (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		file_name TEXT NOT NULL,
		group_strategy TEXT NOT NULL,
		group_value TEXT NOT NULL,
		object_path TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		update_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		UNIQUE (group_strategy, group_value)
	)`,
	`CREATE TABLE IF NOT EXISTS run_history (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		stage TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		source_archive_id UUID REFERENCES source_archives(id),
		updates_added INT NOT NULL DEFAULT 0,
		updates_modified INT NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_source_archives_pending
		ON source_archives (processed, downloaded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_updates_grouping
		ON updates (year, os_version)`,
	`CREATE INDEX IF NOT EXISTS idx_run_history_started
		ON run_history (started_at DESC)`,
}

// Migrate creates the schema if it does not exist. Safe to run on every
// start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}
