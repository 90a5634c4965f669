// Package parser implements the ingest stage: pull an unprocessed source
// archive out of the object store, walk its cabinet structure, and upsert the
// catalog entries it describes into the metadata store.
package parser

import (
	"context"
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

// batchSize is how many parsed entries are buffered before one upsert
// round trip. Committing in batches keeps memory flat on large archives and
// preserves already-committed work if extraction fails midway.
const batchSize = 50

// indexEntry is the top-level listing every source archive must contain.
const indexEntry = "index.xml"

// MetadataStore is the slice of the metadata store the parser needs.
type MetadataStore interface {
	PendingSourceArchives(ctx context.Context) ([]db.SourceArchive, error)
	GetSourceArchive(ctx context.Context, id uuid.UUID) (*db.SourceArchive, error)
	MarkSourceArchiveProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateRunForSource(ctx context.Context, stage, status string, sourceID uuid.UUID) (uuid.UUID, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, added, modified int, errMsg string) error
	UpsertUpdates(ctx context.Context, recs []db.UpdateRecord) (added, modified int, err error)
}

// ObjectStore is the slice of the object store the parser needs.
type ObjectStore interface {
	Download(ctx context.Context, bucket, object, filePath string) error
}

// Parser extracts catalog entries from stored source archives.
type Parser struct {
	store   MetadataStore
	objects ObjectStore
	bucket  string
}

// New creates a parser reading source archives from the given bucket.
func New(store MetadataStore, objects ObjectStore, bucket string) *Parser {
	return &Parser{store: store, objects: objects, bucket: bucket}
}

// ProcessPending processes every unprocessed source archive in download
// order. A failure on one archive is logged and does not stop the others;
// the failed archive stays unprocessed and is retried on the next pass.
func (p *Parser) ProcessPending(ctx context.Context) error {
	pending, err := p.store.PendingSourceArchives(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending archives: %w", err)
	}
	if len(pending) == 0 {
		log.Printf("[parse] no pending source archives")
		return nil
	}
	log.Printf("[parse] %d pending source archive(s)", len(pending))

	for _, arch := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.ProcessOne(ctx, arch.ID); err != nil {
			log.Printf("[parse] archive %s failed: %v", arch.FileName, err)
		}
	}
	return nil
}

// ProcessOne fully ingests a single source archive. The archive is marked
// processed only after extraction completed; on failure it stays pending and
// the run records the error together with the counts committed so far.
func (p *Parser) ProcessOne(ctx context.Context, sourceID uuid.UUID) error {
	arch, err := p.store.GetSourceArchive(ctx, sourceID)
	if err != nil {
		return err
	}
	if arch == nil {
		log.Printf("[parse] source archive %s no longer exists, skipping", sourceID)
		return nil
	}

	runID, err := p.store.CreateRunForSource(ctx, db.StageParse, db.RunProcessing, sourceID)
	if err != nil {
		return fmt.Errorf("failed to open parse run: %w", err)
	}

	added, modified, err := p.process(ctx, arch)
	if err != nil {
		p.finalize(ctx, runID, db.RunFailed, added, modified, err.Error())
		return err
	}

	if err := p.store.MarkSourceArchiveProcessed(ctx, sourceID, time.Now().UTC()); err != nil {
		p.finalize(ctx, runID, db.RunFailed, added, modified, err.Error())
		return err
	}
	p.finalize(ctx, runID, db.RunCompleted, added, modified, "")
	log.Printf("[parse] archive %s done: %d added, %d modified", arch.FileName, added, modified)
	return nil
}

func (p *Parser) process(ctx context.Context, arch *db.SourceArchive) (added, modified int, err error) {
	staging, err := os.MkdirTemp("", "catalogd-parse-")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	cabPath := filepath.Join(staging, "source.cab")
	if err := p.objects.Download(ctx, p.bucket, arch.ObjectPath, cabPath); err != nil {
		return 0, 0, err
	}
	return p.extractArchive(ctx, cabPath, staging)
}

// extractArchive walks one source cabinet: the top-level index listing first,
// then every nested per-package cabinet. Counts of committed rows are
// returned even when extraction fails partway through.
func (p *Parser) extractArchive(ctx context.Context, cabPath, staging string) (added, modified int, err error) {
	cab, err := cabinet.Open(cabPath)
	if err != nil {
		return 0, 0, err
	}
	defer cab.Close()

	batch := newBatcher(p.store)
	defer func() {
		added, modified = batch.added, batch.modified
	}()

	if err := p.extractIndex(ctx, cab, batch); err != nil {
		return 0, 0, err
	}

	for _, entry := range cab.Entries() {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		if !isNestedCabinet(entry.Name) {
			continue
		}
		if err := p.extractNested(ctx, cab, entry.Name, staging, batch); err != nil {
			return 0, 0, fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}

	if err := batch.flush(ctx); err != nil {
		return 0, 0, err
	}
	return batch.added, batch.modified, nil
}

func (p *Parser) extractIndex(ctx context.Context, cab *cabinet.Cabinet, batch *batcher) error {
	rc, err := cab.OpenEntry(indexEntry)
	if err != nil {
		return fmt.Errorf("archive has no %s: %w", indexEntry, err)
	}
	defer rc.Close()

	return catalogxml.ReadUpdates(ctx, rc, func(u catalogxml.Update) error {
		return batch.add(ctx, toRecord(u))
	})
}

// extractNested spools a nested cabinet to disk, opens it, and dispatches
// each contained XML document to a handler by name. Unknown documents are
// treated as update listings.
func (p *Parser) extractNested(ctx context.Context, cab *cabinet.Cabinet, name, staging string, batch *batcher) error {
	nestedDir := filepath.Join(staging, "nested")
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		return fmt.Errorf("failed to create nested staging directory: %w", err)
	}
	nestedPath := filepath.Join(nestedDir, filepath.Base(name))
	if err := spoolEntry(cab, name, nestedPath); err != nil {
		return err
	}
	defer os.Remove(nestedPath)

	nested, err := cabinet.Open(nestedPath)
	if err != nil {
		return err
	}
	defer nested.Close()

	for _, entry := range nested.Entries() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !strings.EqualFold(filepath.Ext(entry.Name), ".xml") {
			continue
		}
		if err := p.dispatchDocument(ctx, nested, entry.Name, batch); err != nil {
			return fmt.Errorf("failed to process %s: %w", entry.Name, err)
		}
	}
	return nil
}

func (p *Parser) dispatchDocument(ctx context.Context, cab *cabinet.Cabinet, name string, batch *batcher) error {
	rc, err := cab.OpenEntry(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "metadata"):
		return drainMetadataDocument(ctx, rc)
	case strings.Contains(lower, "package"):
		return drainPackageDocument(ctx, rc)
	default:
		return catalogxml.ReadUpdates(ctx, rc, func(u catalogxml.Update) error {
			return batch.add(ctx, toRecord(u))
		})
	}
}

func isNestedCabinet(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "package/") && strings.HasSuffix(lower, ".cab")
}

func spoolEntry(cab *cabinet.Cabinet, name, dst string) error {
	rc, err := cab.OpenEntry(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create nested staging file: %w", err)
	}
	if _, err := out.ReadFrom(rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to spool %s: %w", name, err)
	}
	return out.Close()
}

func (p *Parser) finalize(ctx context.Context, runID uuid.UUID, status string, added, modified int, errMsg string) {
	if err := p.store.CompleteRun(context.WithoutCancel(ctx), runID, status, added, modified, errMsg); err != nil {
		log.Printf("[parse] failed to finalize run %s: %v", runID, err)
	}
}

// batcher buffers parsed records and commits them in fixed-size chunks.
type batcher struct {
	store MetadataStore
	buf   []db.UpdateRecord

	added    int
	modified int
}

func newBatcher(store MetadataStore) *batcher {
	return &batcher{store: store, buf: make([]db.UpdateRecord, 0, batchSize)}
}

func (b *batcher) add(ctx context.Context, rec db.UpdateRecord) error {
	b.buf = append(b.buf, rec)
	if len(b.buf) < batchSize {
		return nil
	}
	return b.flush(ctx)
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	added, modified, err := b.store.UpsertUpdates(ctx, b.buf)
	if err != nil {
		return err
	}
	b.added += added
	b.modified += modified
	b.buf = b.buf[:0]
	return nil
}
