package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sourceArchiveColumns = `id, file_name, object_path, COALESCE(fingerprint, ''),
	size_bytes, downloaded_at, processed, processed_at`

func scanSourceArchive(row pgx.Row) (*SourceArchive, error) {
	var a SourceArchive
	err := row.Scan(&a.ID, &a.FileName, &a.ObjectPath, &a.Fingerprint,
		&a.SizeBytes, &a.DownloadedAt, &a.Processed, &a.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertSourceArchive registers a newly uploaded source archive with
// processed=false and returns its id.
func (db *DB) InsertSourceArchive(ctx context.Context, in SourceArchiveInput) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO source_archives (file_name, object_path, fingerprint, size_bytes)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 RETURNING id`,
		in.FileName, in.ObjectPath, in.Fingerprint, in.SizeBytes,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert source archive: %w", err)
	}
	return id, nil
}

// LatestSourceArchive returns the most recently downloaded archive, or nil
// when none exist.
func (db *DB) LatestSourceArchive(ctx context.Context) (*SourceArchive, error) {
	a, err := scanSourceArchive(db.pool.QueryRow(ctx,
		`SELECT `+sourceArchiveColumns+`
		 FROM source_archives
		 ORDER BY downloaded_at DESC
		 LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest source archive: %w", err)
	}
	return a, nil
}

// GetSourceArchive retrieves one archive by id, or nil when absent.
func (db *DB) GetSourceArchive(ctx context.Context, id uuid.UUID) (*SourceArchive, error) {
	a, err := scanSourceArchive(db.pool.QueryRow(ctx,
		`SELECT `+sourceArchiveColumns+`
		 FROM source_archives
		 WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source archive: %w", err)
	}
	return a, nil
}

// PendingSourceArchives lists unprocessed archives, oldest download first.
func (db *DB) PendingSourceArchives(ctx context.Context) ([]SourceArchive, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceArchiveColumns+`
		 FROM source_archives
		 WHERE NOT processed
		 ORDER BY downloaded_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending source archives: %w", err)
	}
	defer rows.Close()

	var archives []SourceArchive
	for rows.Next() {
		a, err := scanSourceArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

// MarkSourceArchiveProcessed flips the processed flag and stamps the
// processing time.
func (db *DB) MarkSourceArchiveProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE source_archives SET processed = TRUE, processed_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("failed to mark source archive processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source archive not found: %s", id)
	}
	return nil
}
