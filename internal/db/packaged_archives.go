package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PackagedArchiveExists reports whether an archive was already built for the
// (strategy, group value) pair.
func (db *DB) PackagedArchiveExists(ctx context.Context, strategy, value string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM packaged_archives
			WHERE group_strategy = $1 AND group_value = $2
		 )`, strategy, value,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check packaged archive %s/%s: %w", strategy, value, err)
	}
	return exists, nil
}

// InsertPackagedArchive registers a rebuilt archive and returns its id. The
// unique (strategy, value) constraint makes concurrent duplicate inserts
// fail rather than silently double-register.
func (db *DB) InsertPackagedArchive(ctx context.Context, in PackagedArchiveInput) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO packaged_archives
			(file_name, group_strategy, group_value, object_path, size_bytes, update_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		in.FileName, in.GroupStrategy, in.GroupValue, in.ObjectPath, in.SizeBytes, in.UpdateCount,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert packaged archive: %w", err)
	}
	return id, nil
}

// ListPackagedArchives returns all rebuilt archives, newest first.
func (db *DB) ListPackagedArchives(ctx context.Context) ([]PackagedArchive, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, file_name, group_strategy, group_value, object_path,
			size_bytes, update_count, created_at, expires_at
		 FROM packaged_archives
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packaged archives: %w", err)
	}
	defer rows.Close()

	var archives []PackagedArchive
	for rows.Next() {
		var a PackagedArchive
		if err := rows.Scan(&a.ID, &a.FileName, &a.GroupStrategy, &a.GroupValue,
			&a.ObjectPath, &a.SizeBytes, &a.UpdateCount, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan packaged archive: %w", err)
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}
