package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secflow/catalogd/internal/db"
)

type fakeStore struct {
	archives []db.SourceArchive
	runs     map[uuid.UUID]*db.RunRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[uuid.UUID]*db.RunRecord)}
}

func (s *fakeStore) CreateRun(_ context.Context, stage, status string) (uuid.UUID, error) {
	id := uuid.New()
	s.runs[id] = &db.RunRecord{ID: id, Stage: stage, Status: status}
	return id, nil
}

func (s *fakeStore) LinkRunSource(_ context.Context, runID, sourceID uuid.UUID) error {
	s.runs[runID].SourceArchiveID = &sourceID
	return nil
}

func (s *fakeStore) CompleteRun(_ context.Context, runID uuid.UUID, status string, added, modified int, errMsg string) error {
	r := s.runs[runID]
	r.Status = status
	r.UpdatesAdded = added
	r.UpdatesModified = modified
	r.ErrorMessage = errMsg
	return nil
}

func (s *fakeStore) LatestSourceArchive(context.Context) (*db.SourceArchive, error) {
	if len(s.archives) == 0 {
		return nil, nil
	}
	latest := s.archives[len(s.archives)-1]
	return &latest, nil
}

func (s *fakeStore) InsertSourceArchive(_ context.Context, in db.SourceArchiveInput) (uuid.UUID, error) {
	arch := db.SourceArchive{
		ID:          uuid.New(),
		FileName:    in.FileName,
		ObjectPath:  in.ObjectPath,
		Fingerprint: in.Fingerprint,
		SizeBytes:   in.SizeBytes,
	}
	s.archives = append(s.archives, arch)
	return arch.ID, nil
}

type fakeObjects struct {
	uploads map[string]int64
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: make(map[string]int64)}
}

func (o *fakeObjects) EnsureBucket(context.Context, string) error { return nil }

func (o *fakeObjects) Upload(_ context.Context, _, object, filePath, _ string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	o.uploads[object] = info.Size()
	return info.Size(), nil
}

func newTestServer(t *testing.T, etag string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if etag != "" {
			w.Header().Set("ETag", `"`+etag+`"`)
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncRegistersNewArchive(t *testing.T) {
	body := []byte("MSCF fake cabinet payload")
	srv := newTestServer(t, "v1", body)

	store := newFakeStore()
	objects := newFakeObjects()
	f := New(store, objects, srv.URL, "source-cabs")

	require.NoError(t, f.Sync(context.Background()))

	require.Len(t, store.archives, 1)
	arch := store.archives[0]
	assert.Equal(t, "v1", arch.Fingerprint)
	assert.Equal(t, int64(len(body)), arch.SizeBytes)
	assert.Contains(t, objects.uploads, arch.ObjectPath)

	require.Len(t, store.runs, 1)
	for _, r := range store.runs {
		assert.Equal(t, db.StageFetch, r.Stage)
		assert.Equal(t, db.RunCompleted, r.Status)
		require.NotNil(t, r.SourceArchiveID)
		assert.Equal(t, arch.ID, *r.SourceArchiveID)
	}
}

// Fetching the same content twice must store it once: the second run sees a
// matching fingerprint and finishes as Skipped without touching the object
// store again.
func TestSyncDedupsByFingerprint(t *testing.T) {
	srv := newTestServer(t, "stable-etag", []byte("unchanged content"))

	store := newFakeStore()
	objects := newFakeObjects()
	f := New(store, objects, srv.URL, "source-cabs")

	require.NoError(t, f.Sync(context.Background()))
	require.NoError(t, f.Sync(context.Background()))

	assert.Len(t, store.archives, 1)
	assert.Len(t, objects.uploads, 1)

	statuses := make(map[string]int)
	for _, r := range store.runs {
		statuses[r.Status]++
	}
	assert.Equal(t, map[string]int{db.RunCompleted: 1, db.RunSkipped: 1}, statuses)
}

// Without an ETag every download gets a unique fingerprint, so nothing can be
// deduplicated and each sync registers a new archive.
func TestSyncWithoutETagAlwaysRegisters(t *testing.T) {
	srv := newTestServer(t, "", []byte("same bytes"))

	store := newFakeStore()
	objects := newFakeObjects()
	f := New(store, objects, srv.URL, "source-cabs")

	require.NoError(t, f.Sync(context.Background()))
	require.NoError(t, f.Sync(context.Background()))

	assert.Len(t, store.archives, 2)
	assert.NotEqual(t, store.archives[0].Fingerprint, store.archives[1].Fingerprint)
}

func TestSyncRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	f := New(store, newFakeObjects(), srv.URL, "source-cabs")

	err := f.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")

	require.Len(t, store.runs, 1)
	for _, r := range store.runs {
		assert.Equal(t, db.RunFailed, r.Status)
		assert.Contains(t, r.ErrorMessage, "unexpected status 503")
	}
	assert.Empty(t, store.archives)
}
