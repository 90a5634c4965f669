package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const updateColumns = `id, update_id, title, COALESCE(description, ''),
	COALESCE(classification, ''), COALESCE(product, ''), COALESCE(product_family, ''),
	COALESCE(kb_article_id, ''), COALESCE(security_bulletin_id, ''), COALESCE(msrc_severity, ''),
	COALESCE(categories, '{}'), is_superseded, COALESCE(superseded_by, '{}'),
	release_date, last_modified, COALESCE(os_version, ''), year, month, metadata,
	created_at, updated_at`

func scanUpdate(row pgx.Row) (*UpdateRecord, error) {
	var u UpdateRecord
	err := row.Scan(&u.ID, &u.UpdateID, &u.Title, &u.Description,
		&u.Classification, &u.Product, &u.ProductFamily,
		&u.KBArticleID, &u.SecurityBulletinID, &u.MsrcSeverity,
		&u.Categories, &u.IsSuperseded, &u.SupersededBy,
		&u.ReleaseDate, &u.LastModified, &u.OsVersion, &u.Year, &u.Month, &u.Metadata,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUpdates applies a batch of update records in one transaction, keyed
// by the external update identifier. New identifiers count as added,
// existing ones are overwritten and count as modified (last write wins).
func (db *DB) UpsertUpdates(ctx context.Context, recs []UpdateRecord) (added, modified int, err error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range recs {
		if rec.UpdateID == "" {
			return 0, 0, fmt.Errorf("update record with empty update_id")
		}
		var existing bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM updates WHERE update_id = $1)`,
			rec.UpdateID,
		).Scan(&existing)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to look up update %s: %w", rec.UpdateID, err)
		}

		if existing {
			_, err = tx.Exec(ctx,
				`UPDATE updates SET
					title = $2, description = NULLIF($3, ''), classification = NULLIF($4, ''),
					product = NULLIF($5, ''), product_family = NULLIF($6, ''),
					kb_article_id = NULLIF($7, ''), security_bulletin_id = NULLIF($8, ''),
					msrc_severity = NULLIF($9, ''), categories = $10, is_superseded = $11,
					superseded_by = $12, release_date = $13, last_modified = $14,
					os_version = NULLIF($15, ''), year = $16, month = $17, metadata = $18,
					updated_at = NOW()
				 WHERE update_id = $1`,
				rec.UpdateID, rec.Title, rec.Description, rec.Classification,
				rec.Product, rec.ProductFamily, rec.KBArticleID, rec.SecurityBulletinID,
				rec.MsrcSeverity, rec.Categories, rec.IsSuperseded, rec.SupersededBy,
				rec.ReleaseDate, rec.LastModified, rec.OsVersion, rec.Year, rec.Month, rec.Metadata)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to update %s: %w", rec.UpdateID, err)
			}
			modified++
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO updates (
					update_id, title, description, classification, product, product_family,
					kb_article_id, security_bulletin_id, msrc_severity, categories,
					is_superseded, superseded_by, release_date, last_modified,
					os_version, year, month, metadata)
				 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
					NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10,
					$11, $12, $13, $14, NULLIF($15, ''), $16, $17, $18)`,
				rec.UpdateID, rec.Title, rec.Description, rec.Classification,
				rec.Product, rec.ProductFamily, rec.KBArticleID, rec.SecurityBulletinID,
				rec.MsrcSeverity, rec.Categories, rec.IsSuperseded, rec.SupersededBy,
				rec.ReleaseDate, rec.LastModified, rec.OsVersion, rec.Year, rec.Month, rec.Metadata)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to insert %s: %w", rec.UpdateID, err)
			}
			added++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit upsert transaction: %w", err)
	}
	return added, modified, nil
}

// groupExpr maps a grouping strategy to its SQL projection and the predicate
// excluding records the strategy cannot place. The mapping is closed: the
// five named strategies plus the Year-OS default.
func groupExpr(strategy string) (expr, cond string) {
	switch strategy {
	case "OS":
		return `os_version`, `os_version IS NOT NULL`
	case "Year":
		return `year::text`, `year IS NOT NULL`
	case "Year-Month":
		return `year::text || '-' || lpad(month::text, 2, '0')`,
			`year IS NOT NULL AND month IS NOT NULL`
	case "ProductFamily":
		return `product_family`, `product_family IS NOT NULL`
	default: // Year-OS
		return `year::text || '-' || os_version`,
			`year IS NOT NULL AND os_version IS NOT NULL`
	}
}

// DistinctGroupValues projects the distinct group values for a strategy.
func (db *DB) DistinctGroupValues(ctx context.Context, strategy string) ([]string, error) {
	expr, cond := groupExpr(strategy)
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT `+expr+` FROM updates WHERE `+cond+` ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list group values for %s: %w", strategy, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan group value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// UpdatesForGroup selects every update belonging to one group of a strategy,
// mirroring the projection used by DistinctGroupValues.
func (db *DB) UpdatesForGroup(ctx context.Context, strategy, value string) ([]UpdateRecord, error) {
	expr, cond := groupExpr(strategy)
	rows, err := db.pool.Query(ctx,
		`SELECT `+updateColumns+` FROM updates
		 WHERE `+cond+` AND `+expr+` = $1
		 ORDER BY update_id`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to select updates for group %s/%s: %w", strategy, value, err)
	}
	defer rows.Close()

	var updates []UpdateRecord
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		updates = append(updates, *u)
	}
	return updates, rows.Err()
}
