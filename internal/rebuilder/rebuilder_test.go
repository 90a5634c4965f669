package rebuilder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secflow/catalogd/internal/cabinet"
	"github.com/secflow/catalogd/internal/catalogxml"
	"github.com/secflow/catalogd/internal/db"
)

// fakeStore mirrors the SQL grouping projections in memory. extraGroups lets
// a test report a group value that no record matches.
type fakeStore struct {
	updates     []db.UpdateRecord
	packaged    map[string]db.PackagedArchiveInput
	extraGroups []string

	existsErr error
	insertErr error
}

func newFakeStore(updates ...db.UpdateRecord) *fakeStore {
	return &fakeStore{
		updates:  updates,
		packaged: make(map[string]db.PackagedArchiveInput),
	}
}

func groupKey(strategy, value string) string { return strategy + "|" + value }

func groupValue(rec db.UpdateRecord, strategy string) string {
	year := ""
	month := ""
	if rec.Year != nil {
		year = fmt.Sprintf("%d", *rec.Year)
	}
	if rec.Month != nil {
		month = fmt.Sprintf("%02d", *rec.Month)
	}
	switch strategy {
	case "OS":
		return rec.OsVersion
	case "Year":
		return year
	case "Year-Month":
		if year == "" || month == "" {
			return ""
		}
		return year + "-" + month
	case "ProductFamily":
		return rec.ProductFamily
	default:
		if year == "" || rec.OsVersion == "" {
			return ""
		}
		return year + "-" + rec.OsVersion
	}
}

func (s *fakeStore) DistinctGroupValues(_ context.Context, strategy string) ([]string, error) {
	seen := make(map[string]bool)
	var values []string
	for _, rec := range s.updates {
		v := groupValue(rec, strategy)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	values = append(values, s.extraGroups...)
	sort.Strings(values)
	return values, nil
}

func (s *fakeStore) UpdatesForGroup(_ context.Context, strategy, value string) ([]db.UpdateRecord, error) {
	var recs []db.UpdateRecord
	for _, rec := range s.updates {
		if groupValue(rec, strategy) == value {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *fakeStore) PackagedArchiveExists(_ context.Context, strategy, value string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.packaged[groupKey(strategy, value)]
	return ok, nil
}

func (s *fakeStore) InsertPackagedArchive(_ context.Context, in db.PackagedArchiveInput) (uuid.UUID, error) {
	if s.insertErr != nil {
		return uuid.Nil, s.insertErr
	}
	s.packaged[groupKey(in.GroupStrategy, in.GroupValue)] = in
	return uuid.New(), nil
}

type fakeObjects struct {
	uploads   map[string][]byte
	uploadErr func(object string) error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: make(map[string][]byte)}
}

func (o *fakeObjects) EnsureBucket(context.Context, string) error { return nil }

func (o *fakeObjects) Upload(_ context.Context, _, object, filePath, _ string) (int64, error) {
	if o.uploadErr != nil {
		if err := o.uploadErr(object); err != nil {
			return 0, err
		}
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	o.uploads[object] = data
	return int64(len(data)), nil
}

func record(id, osVersion, family string, year int, month time.Month) db.UpdateRecord {
	m := int(month)
	release := time.Date(year, month, 10, 0, 0, 0, 0, time.UTC)
	return db.UpdateRecord{
		UpdateID:      id,
		Title:         "Security Update " + id,
		OsVersion:     osVersion,
		ProductFamily: family,
		Year:          &year,
		Month:         &m,
		ReleaseDate:   &release,
	}
}

// readUploadedIndex opens an uploaded cabinet and returns the update ids in
// its index document.
func readUploadedIndex(t *testing.T, data []byte) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uploaded.cab")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cab, err := cabinet.Open(path)
	require.NoError(t, err)
	defer cab.Close()

	names := make(map[string]bool)
	for _, e := range cab.Entries() {
		names[e.Name] = true
	}
	assert.True(t, names["metadata.xml"], "uploaded cabinet should carry metadata.xml")

	rc, err := cab.OpenEntry("index.xml")
	require.NoError(t, err)
	defer rc.Close()

	var ids []string
	require.NoError(t, catalogxml.ReadUpdates(context.Background(), rc, func(u catalogxml.Update) error {
		ids = append(ids, u.UpdateID)
		return nil
	}))
	return ids
}

func TestRebuildPackagesGroups(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
		record("u2", "Windows Server 2019", "Windows", 2023, time.April),
		record("u3", "Windows 11", "Windows", 2024, time.January),
	)
	objects := newFakeObjects()
	r := New(store, objects, "rebuilt-cabs")

	require.NoError(t, r.Rebuild(context.Background(), "Year-OS"))

	require.Len(t, store.packaged, 2)
	require.Len(t, objects.uploads, 2)

	in, ok := store.packaged[groupKey("Year-OS", "2023-Windows Server 2019")]
	require.True(t, ok)
	assert.Equal(t, 2, in.UpdateCount)
	assert.True(t, strings.HasPrefix(in.FileName, "year-os_2023-Windows_Server_2019_"), in.FileName)
	assert.Greater(t, in.SizeBytes, int64(0))

	ids := readUploadedIndex(t, objects.uploads[in.ObjectPath])
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

// A group that already has a packaged archive row is left alone; only new
// groups are built.
func TestRebuildSkipsPackagedGroups(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
		record("u2", "Windows 11", "Windows", 2024, time.January),
	)
	store.packaged[groupKey("Year-OS", "2023-Windows Server 2019")] = db.PackagedArchiveInput{}

	objects := newFakeObjects()
	r := New(store, objects, "rebuilt-cabs")
	require.NoError(t, r.Rebuild(context.Background(), "Year-OS"))

	assert.Len(t, objects.uploads, 1)
	for object := range objects.uploads {
		assert.Contains(t, object, "2024-Windows_11")
	}
}

// Entries missing the fields a strategy projects on fall out of the grouping
// entirely rather than producing an empty or misnamed group.
func TestRebuildExcludesRecordsWithoutGroupFields(t *testing.T) {
	noOS := record("u9", "", "Office", 2023, time.March)
	store := newFakeStore(
		noOS,
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
	)
	objects := newFakeObjects()
	r := New(store, objects, "rebuilt-cabs")

	require.NoError(t, r.Rebuild(context.Background(), "Year-OS"))

	require.Len(t, store.packaged, 1)
	in := store.packaged[groupKey("Year-OS", "2023-Windows Server 2019")]
	ids := readUploadedIndex(t, objects.uploads[in.ObjectPath])
	assert.ElementsMatch(t, []string{"u1"}, ids)
}

// A group value with no matching records produces neither an object-store
// write nor a packaged archive row.
func TestRebuildSkipsEmptyGroups(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
	)
	store.extraGroups = []string{"2025-Windows 12"}

	objects := newFakeObjects()
	r := New(store, objects, "rebuilt-cabs")
	require.NoError(t, r.Rebuild(context.Background(), "Year-OS"))

	require.Len(t, store.packaged, 1)
	_, ok := store.packaged[groupKey("Year-OS", "2025-Windows 12")]
	assert.False(t, ok, "empty group should not be registered")
	require.Len(t, objects.uploads, 1)
	for object := range objects.uploads {
		assert.NotContains(t, object, "2025")
	}
}

func TestRebuildUnknownStrategyFallsBack(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
	)
	objects := newFakeObjects()
	r := New(store, objects, "rebuilt-cabs")

	require.NoError(t, r.Rebuild(context.Background(), "Severity"))

	_, ok := store.packaged[groupKey("Year-OS", "2023-Windows Server 2019")]
	assert.True(t, ok, "unknown strategy should package under Year-OS")
}

// A per-group upload failure is contained: the remaining groups still
// package, and the pass reports the partial failure.
func TestRebuildGroupFailureDoesNotStopOthers(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
		record("u2", "Windows 11", "Windows", 2024, time.January),
	)
	objects := newFakeObjects()
	objects.uploadErr = func(object string) error {
		if strings.Contains(object, "2023") {
			return errors.New("upload refused")
		}
		return nil
	}
	r := New(store, objects, "rebuilt-cabs")

	err := r.Rebuild(context.Background(), "Year-OS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 groups failed")

	assert.Len(t, store.packaged, 1)
	_, ok := store.packaged[groupKey("Year-OS", "2024-Windows 11")]
	assert.True(t, ok)
}

// Metadata store failures abort the whole pass instead of being retried per
// group.
func TestRebuildStoreFailureAborts(t *testing.T) {
	store := newFakeStore(
		record("u1", "Windows Server 2019", "Windows", 2023, time.March),
		record("u2", "Windows 11", "Windows", 2024, time.January),
	)
	storeErr := errors.New("connection reset")
	store.existsErr = storeErr

	r := New(store, newFakeObjects(), "rebuilt-cabs")
	err := r.Rebuild(context.Background(), "Year-OS")
	require.ErrorIs(t, err, storeErr)
	assert.Empty(t, store.packaged)
}

func TestNormalize(t *testing.T) {
	for _, s := range Strategies {
		assert.Equal(t, s, Normalize(s))
	}
	for _, s := range []string{"", "year-os", "Severity", "os"} {
		assert.Equal(t, DefaultStrategy, Normalize(s))
	}
}
