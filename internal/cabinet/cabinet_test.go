package cabinet

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func buildTestCabinet(t *testing.T, path string, contents map[string][]byte, opts ...BuilderOption) {
	t.Helper()
	b, err := NewBuilder(path, opts...)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	// Fixed order so folder offsets are deterministic across runs.
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.AddStream(name, bytes.NewReader(contents[name]), time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)); err != nil {
			t.Fatalf("AddStream(%s): %v", name, err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func readEntry(t *testing.T, c *Cabinet, name string) []byte {
	t.Helper()
	rc, err := c.OpenEntry(name)
	if err != nil {
		t.Fatalf("OpenEntry(%s): %v", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func TestRoundTrip(t *testing.T) {
	big := make([]byte, 3*blockSize+517) // spans multiple data blocks
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(big)

	contents := map[string][]byte{
		"index.xml":        []byte("<Updates><Update UpdateId=\"a\"/></Updates>"),
		"metadata.xml":     []byte("<Metadata/>"),
		"package/big.cab":  big,
		"package/tiny.bin": {0x01},
		"empty.txt":        {},
	}

	for _, tc := range []struct {
		name string
		opts []BuilderOption
	}{
		{"mszip", nil},
		{"store", []BuilderOption{WithStoreCompression()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.cab")
			buildTestCabinet(t, path, contents, tc.opts...)

			c, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer c.Close()

			if got := len(c.Entries()); got != len(contents) {
				t.Fatalf("entry count = %d, want %d", got, len(contents))
			}
			for _, e := range c.Entries() {
				want := contents[e.Name]
				if e.Size != int64(len(want)) {
					t.Errorf("%s size = %d, want %d", e.Name, e.Size, len(want))
				}
				if got := readEntry(t, c, e.Name); !bytes.Equal(got, want) {
					t.Errorf("%s content mismatch (%d vs %d bytes)", e.Name, len(got), len(want))
				}
			}
		})
	}
}

func TestOpenEntryCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cab")
	buildTestCabinet(t, path, map[string][]byte{"Index.XML": []byte("hello")})

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if got := readEntry(t, c, "index.xml"); string(got) != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
	if _, err := c.OpenEntry("missing.xml"); err == nil {
		t.Error("expected error for unknown entry")
	}
}

func TestModTimeSurvivesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cab")
	when := time.Date(2023, 11, 5, 8, 14, 26, 0, time.UTC)

	b, err := NewBuilder(path)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddStream("a.xml", strings.NewReader("x"), when); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	// DOS time has two-second resolution.
	if got := c.ModTime("a.xml"); !got.Equal(when) {
		t.Errorf("ModTime = %v, want %v", got, when)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.cab")
	if err := os.WriteFile(path, []byte("this is not a cabinet at all, not even close"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for non-cabinet input")
	}
}

func TestChecksum(t *testing.T) {
	// XOR of whole words is order-independent per word but the trailing
	// bytes fold differently; pin a few values against the reference shape.
	if got := checksum(nil, 0); got != 0 {
		t.Errorf("checksum(nil) = %#x, want 0", got)
	}
	if got := checksum([]byte{1, 2, 3, 4}, 0); got != 0x04030201 {
		t.Errorf("checksum(word) = %#x, want 0x04030201", got)
	}
	if got := checksum([]byte{0xFF}, 0); got != 0xFF {
		t.Errorf("checksum(1 byte) = %#x, want 0xFF", got)
	}
	if got := checksum([]byte{1, 2, 3, 4}, 0x04030201); got != 0 {
		t.Errorf("checksum with seed = %#x, want 0", got)
	}
}

func TestDOSDateTime(t *testing.T) {
	when := time.Date(2024, 2, 29, 23, 59, 58, 0, time.UTC)
	date, tm := dosDateTime(when)
	if got := fromDOSDateTime(date, tm); !got.Equal(when) {
		t.Errorf("round trip = %v, want %v", got, when)
	}

	// Pre-epoch timestamps clamp rather than underflow.
	date, tm = dosDateTime(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	if got := fromDOSDateTime(date, tm); got.Year() != 1980 {
		t.Errorf("clamped year = %d, want 1980", got.Year())
	}
}

func TestBuilderRejectsReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cab")
	b, err := NewBuilder(path)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddStream("a", strings.NewReader("a"), time.Now()); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Finish(); err == nil {
		t.Error("expected error on second Finish")
	}
	if err := b.AddStream("b", strings.NewReader("b"), time.Now()); err == nil {
		t.Error("expected error on AddStream after Finish")
	}
}

func TestBuilderCloseRemovesSpool(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(filepath.Join(dir, "test.cab"))
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddStream("a", strings.NewReader("abandoned"), time.Now()); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	spools, err := filepath.Glob(filepath.Join(dir, ".cabspool-*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(spools) != 0 {
		t.Errorf("spool files left behind after Close: %v", spools)
	}
	if err := b.AddStream("b", strings.NewReader("b"), time.Now()); err == nil {
		t.Error("expected error on AddStream after Close")
	}
}

func TestBuilderCloseAfterFinishIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cab")
	b, err := NewBuilder(path)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddStream("a", strings.NewReader("kept"), time.Now()); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close after Finish: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("cabinet missing after Close: %v", err)
	}
}
