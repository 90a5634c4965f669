package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateRun opens a run history row for a stage and returns its id.
func (db *DB) CreateRun(ctx context.Context, stage, status string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO run_history (stage, status) VALUES ($1, $2) RETURNING id`,
		stage, status,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run record: %w", err)
	}
	return id, nil
}

// CreateRunForSource opens a run history row linked to a source archive.
func (db *DB) CreateRunForSource(ctx context.Context, stage, status string, sourceID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO run_history (stage, status, source_archive_id)
		 VALUES ($1, $2, $3) RETURNING id`,
		stage, status, sourceID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run record: %w", err)
	}
	return id, nil
}

// LinkRunSource attaches a source archive to an already-open run.
func (db *DB) LinkRunSource(ctx context.Context, runID, sourceID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE run_history SET source_archive_id = $1 WHERE id = $2`,
		sourceID, runID)
	if err != nil {
		return fmt.Errorf("failed to link run to source archive: %w", err)
	}
	return nil
}

// CompleteRun finalizes a run with its terminal status, counts and optional
// error message. Called exactly once per run.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, added, modified int, errMsg string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE run_history
		 SET status = $1, completed_at = NOW(), updates_added = $2,
		     updates_modified = $3, error_message = NULLIF($4, '')
		 WHERE id = $5`,
		status, added, modified, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run record: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent run history rows, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, stage, started_at, completed_at, status, source_archive_id,
			updates_added, updates_modified, COALESCE(error_message, '')
		 FROM run_history
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Stage, &r.StartedAt, &r.CompletedAt, &r.Status,
			&r.SourceArchiveID, &r.UpdatesAdded, &r.UpdatesModified, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
