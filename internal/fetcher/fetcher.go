// Package fetcher implements the sync stage: download the upstream catalog
// archive, deduplicate against the most recently stored version by content
// fingerprint, and register new versions for the parser.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secflow/catalogd/internal/db"
)

// DefaultTimeout bounds one full download. The upstream archive is large, so
// this is generous; it exists to keep a wedged connection from holding the
// stage's run lock forever.
const DefaultTimeout = 30 * time.Minute

// MetadataStore is the slice of the metadata store the fetcher needs.
type MetadataStore interface {
	CreateRun(ctx context.Context, stage, status string) (uuid.UUID, error)
	LinkRunSource(ctx context.Context, runID, sourceID uuid.UUID) error
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, added, modified int, errMsg string) error
	LatestSourceArchive(ctx context.Context) (*db.SourceArchive, error)
	InsertSourceArchive(ctx context.Context, in db.SourceArchiveInput) (uuid.UUID, error)
}

// ObjectStore is the slice of the object store the fetcher needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, object, filePath, contentType string) (int64, error)
}

// Fetcher downloads and registers source archives.
type Fetcher struct {
	store   MetadataStore
	objects ObjectStore
	client  *http.Client

	sourceURL string
	bucket    string
}

// New creates a fetcher for one upstream location and destination bucket.
func New(store MetadataStore, objects ObjectStore, sourceURL, bucket string) *Fetcher {
	return &Fetcher{
		store:     store,
		objects:   objects,
		client:    &http.Client{Timeout: DefaultTimeout},
		sourceURL: sourceURL,
		bucket:    bucket,
	}
}

// Sync runs one fetch: download, fingerprint, dedup, upload, register.
// Exactly one terminal run record is produced per call.
func (f *Fetcher) Sync(ctx context.Context) error {
	log.Printf("[fetch] starting sync from %s", f.sourceURL)

	runID, err := f.store.CreateRun(ctx, db.StageFetch, db.RunStarted)
	if err != nil {
		return fmt.Errorf("failed to open fetch run: %w", err)
	}

	if err := f.sync(ctx, runID); err != nil {
		f.finalize(ctx, runID, db.RunFailed, err.Error())
		return err
	}
	return nil
}

func (f *Fetcher) sync(ctx context.Context, runID uuid.UUID) error {
	if err := f.objects.EnsureBucket(ctx, f.bucket); err != nil {
		return err
	}

	staging, err := os.MkdirTemp("", "catalogd-fetch-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	cabPath := filepath.Join(staging, "catalog.cab")
	fingerprint, size, err := f.download(ctx, cabPath)
	if err != nil {
		return err
	}

	latest, err := f.store.LatestSourceArchive(ctx)
	if err != nil {
		return err
	}
	if latest != nil && latest.Fingerprint != "" && latest.Fingerprint == fingerprint {
		log.Printf("[fetch] archive with fingerprint %s already stored, skipping", fingerprint)
		f.finalize(ctx, runID, db.RunSkipped, "")
		return nil
	}

	objectName := fmt.Sprintf("catalog_%s.cab", time.Now().UTC().Format("20060102_150405"))
	if _, err := f.objects.Upload(ctx, f.bucket, objectName, cabPath, "application/octet-stream"); err != nil {
		return err
	}

	// The row is inserted only after the upload succeeded, so it never
	// references missing object-store content.
	sourceID, err := f.store.InsertSourceArchive(ctx, db.SourceArchiveInput{
		FileName:    objectName,
		ObjectPath:  objectName,
		Fingerprint: fingerprint,
		SizeBytes:   size,
	})
	if err != nil {
		return err
	}
	if err := f.store.LinkRunSource(ctx, runID, sourceID); err != nil {
		return err
	}

	f.finalize(ctx, runID, db.RunCompleted, "")
	log.Printf("[fetch] registered new source archive %s (%d bytes)", objectName, size)
	return nil
}

// download streams the upstream archive to path and returns the content
// fingerprint and size. Without an upstream validator the fingerprint is a
// fresh UUID, which makes dedup impossible and every fetch new.
func (f *Fetcher) download(ctx context.Context, path string) (fingerprint string, size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch %s: %w", f.sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, f.sourceURL)
	}

	fingerprint = strings.Trim(resp.Header.Get("ETag"), `"`)
	if fingerprint == "" {
		fingerprint = uuid.NewString()
	}

	out, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer out.Close()

	size, err = io.Copy(out, resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download archive: %w", err)
	}
	return fingerprint, size, nil
}

// finalize writes the terminal run status. It must succeed even when the
// surrounding context was cancelled, and a bookkeeping failure is only worth
// a log line at this point.
func (f *Fetcher) finalize(ctx context.Context, runID uuid.UUID, status, errMsg string) {
	if err := f.store.CompleteRun(context.WithoutCancel(ctx), runID, status, 0, 0, errMsg); err != nil {
		log.Printf("[fetch] failed to finalize run %s: %v", runID, err)
	}
}
