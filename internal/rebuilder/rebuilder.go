// Package rebuilder implements the packaging stage: project stored catalog
// entries into groups, synthesize a fresh index and metadata document per
// group, and publish each group as a newly built cabinet archive.
package rebuilder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secflow/catalogd/internal/cabinet"
	"github.com/secflow/catalogd/internal/catalogxml"
	"github.com/secflow/catalogd/internal/db"
)

// DefaultStrategy is used when a requested strategy is not one of the known
// names.
const DefaultStrategy = "Year-OS"

// Strategies lists the grouping strategies the rebuilder understands.
var Strategies = []string{"OS", "Year", "Year-Month", "ProductFamily", "Year-OS"}

// MetadataStore is the slice of the metadata store the rebuilder needs.
type MetadataStore interface {
	DistinctGroupValues(ctx context.Context, strategy string) ([]string, error)
	UpdatesForGroup(ctx context.Context, strategy, value string) ([]db.UpdateRecord, error)
	PackagedArchiveExists(ctx context.Context, strategy, value string) (bool, error)
	InsertPackagedArchive(ctx context.Context, in db.PackagedArchiveInput) (uuid.UUID, error)
}

// ObjectStore is the slice of the object store the rebuilder needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, object, filePath, contentType string) (int64, error)
}

// Rebuilder packages grouped catalog entries into output archives.
type Rebuilder struct {
	store   MetadataStore
	objects ObjectStore
	bucket  string
}

// New creates a rebuilder writing packaged archives to the given bucket.
func New(store MetadataStore, objects ObjectStore, bucket string) *Rebuilder {
	return &Rebuilder{store: store, objects: objects, bucket: bucket}
}

// Normalize maps a requested strategy name onto the closed set, falling back
// to DefaultStrategy. Matching is exact; strategy names are case sensitive.
func Normalize(strategy string) string {
	for _, s := range Strategies {
		if strategy == s {
			return s
		}
	}
	return DefaultStrategy
}

// storeError marks a metadata-store failure. Unlike a per-group build or
// upload failure it aborts the whole rebuild pass, since every remaining
// group talks to the same store.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// Rebuild runs one packaging pass for the given strategy. Groups that are
// already packaged or empty are skipped; a failure building or uploading one
// group is logged and does not stop the remaining groups.
func (r *Rebuilder) Rebuild(ctx context.Context, strategy string) error {
	normalized := Normalize(strategy)
	if normalized != strategy {
		log.Printf("[rebuild] unknown strategy %q, using %s", strategy, normalized)
	}
	strategy = normalized

	if err := r.objects.EnsureBucket(ctx, r.bucket); err != nil {
		return err
	}

	values, err := r.store.DistinctGroupValues(ctx, strategy)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		log.Printf("[rebuild] no groups for strategy %s", strategy)
		return nil
	}
	log.Printf("[rebuild] strategy %s: %d group(s)", strategy, len(values))

	var failed int
	for _, value := range values {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.rebuildGroup(ctx, strategy, value); err != nil {
			var se *storeError
			if errors.As(err, &se) {
				return se.err
			}
			failed++
			log.Printf("[rebuild] group %s failed: %v", value, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d groups failed to package", failed, len(values))
	}
	return nil
}

func (r *Rebuilder) rebuildGroup(ctx context.Context, strategy, value string) error {
	exists, err := r.store.PackagedArchiveExists(ctx, strategy, value)
	if err != nil {
		return &storeError{err}
	}
	if exists {
		log.Printf("[rebuild] group %s already packaged, skipping", value)
		return nil
	}

	updates, err := r.store.UpdatesForGroup(ctx, strategy, value)
	if err != nil {
		return &storeError{err}
	}
	if len(updates) == 0 {
		log.Printf("[rebuild] group %s is empty, skipping", value)
		return nil
	}

	staging, err := os.MkdirTemp("", "catalogd-rebuild-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	now := time.Now().UTC()
	cabPath := filepath.Join(staging, "group.cab")
	if err := buildGroupArchive(cabPath, staging, updates, now); err != nil {
		return err
	}

	objectName := fmt.Sprintf("%s_%s_%s.cab",
		strings.ToLower(strategy), sanitizeValue(value), now.Format("20060102"))
	size, err := r.objects.Upload(ctx, r.bucket, objectName, cabPath, "application/octet-stream")
	if err != nil {
		return err
	}

	if _, err := r.store.InsertPackagedArchive(ctx, db.PackagedArchiveInput{
		FileName:      objectName,
		GroupStrategy: strategy,
		GroupValue:    value,
		ObjectPath:    objectName,
		SizeBytes:     size,
		UpdateCount:   len(updates),
	}); err != nil {
		return &storeError{err}
	}

	log.Printf("[rebuild] packaged group %s: %d update(s), %d bytes", value, len(updates), size)
	return nil
}

// buildGroupArchive synthesizes index.xml and metadata.xml for one group and
// assembles them into a cabinet at cabPath.
func buildGroupArchive(cabPath, staging string, updates []db.UpdateRecord, now time.Time) error {
	entries := make([]catalogxml.Update, len(updates))
	for i, rec := range updates {
		entries[i] = toEntry(rec)
	}

	indexPath := filepath.Join(staging, "index.xml")
	if err := writeFileWith(indexPath, func(f *os.File) error {
		return catalogxml.WriteIndex(f, entries)
	}); err != nil {
		return err
	}

	metadataPath := filepath.Join(staging, "metadata.xml")
	if err := writeFileWith(metadataPath, func(f *os.File) error {
		return catalogxml.WriteMetadata(f, now, len(entries))
	}); err != nil {
		return err
	}

	b, err := cabinet.NewBuilder(cabPath)
	if err != nil {
		return err
	}
	defer b.Close()
	for _, name := range []string{"index.xml", "metadata.xml"} {
		src, err := os.Open(filepath.Join(staging, name))
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		err = b.AddStream(name, src, now)
		src.Close()
		if err != nil {
			return err
		}
	}
	return b.Finish()
}

func writeFileWith(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toEntry(rec db.UpdateRecord) catalogxml.Update {
	return catalogxml.Update{
		UpdateID:           rec.UpdateID,
		Title:              rec.Title,
		Description:        rec.Description,
		Classification:     rec.Classification,
		Product:            rec.Product,
		ProductFamily:      rec.ProductFamily,
		KBArticleID:        rec.KBArticleID,
		SecurityBulletinID: rec.SecurityBulletinID,
		MsrcSeverity:       rec.MsrcSeverity,
		OsVersion:          rec.OsVersion,
		Categories:         rec.Categories,
		SupersededBy:       rec.SupersededBy,
		ReleaseDate:        rec.ReleaseDate,
		LastModified:       rec.LastModified,
	}
}

// sanitizeValue makes a group value safe for use in an object name.
func sanitizeValue(value string) string {
	value = strings.ReplaceAll(value, " ", "_")
	value = strings.ReplaceAll(value, "/", "-")
	return value
}
