package cabinet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// Cabinet is an open cabinet archive. Entry contents are read lazily via
// OpenEntry; the Cabinet itself only holds the parsed folder and file tables.
type Cabinet struct {
	path    string
	f       *os.File
	folders []cfFolder
	files   []cfFile
	entries []Entry

	// per-datablock reserved byte count, from the optional reserve header
	dataReserve int
}

type cfFolder struct {
	dataOffset  uint32
	blockCount  uint16
	compression uint16
}

type cfFile struct {
	size         uint32
	folderOffset uint32
	folderIndex  uint16
	date, time   uint16
	name         string
}

// Open parses the cabinet at path and returns a handle for enumerating and
// streaming its entries.
func Open(path string) (*Cabinet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cabinet %s: %w", path, err)
	}
	c := &Cabinet{path: path, f: f}
	if err := c.parse(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse cabinet %s: %w", path, err)
	}
	return c, nil
}

// Close releases the underlying file handle. Streams returned by OpenEntry
// hold their own handles and stay valid after Close.
func (c *Cabinet) Close() error {
	return c.f.Close()
}

// Entries lists the named streams in file-table order.
func (c *Cabinet) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ModTime returns the stored timestamp of the named entry, matched
// case-insensitively. The zero time is returned for unknown names.
func (c *Cabinet) ModTime(name string) time.Time {
	for _, fe := range c.files {
		if strings.EqualFold(fe.name, name) {
			return fromDOSDateTime(fe.date, fe.time)
		}
	}
	return time.Time{}
}

// OpenEntry returns a streaming reader for the named entry, matched
// case-insensitively. The caller must Close the returned stream.
func (c *Cabinet) OpenEntry(name string) (io.ReadCloser, error) {
	for _, fe := range c.files {
		if !strings.EqualFold(fe.name, name) {
			continue
		}
		fol := c.folders[fe.folderIndex]
		src, err := os.Open(c.path)
		if err != nil {
			return nil, fmt.Errorf("failed to reopen cabinet: %w", err)
		}
		if _, err := src.Seek(int64(fol.dataOffset), io.SeekStart); err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to seek to folder data: %w", err)
		}
		fr := &folderReader{
			src:         src,
			compression: fol.compression,
			blocksLeft:  int(fol.blockCount),
			reserve:     c.dataReserve,
		}
		if _, err := io.CopyN(io.Discard, fr, int64(fe.folderOffset)); err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to skip to entry %s: %w", name, err)
		}
		return &entryReader{r: io.LimitReader(fr, int64(fe.size)), src: src}, nil
	}
	return nil, fmt.Errorf("entry %s not found in cabinet", name)
}

func (c *Cabinet) parse() error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.f, hdr[:]); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if string(hdr[0:4]) != signature {
		return fmt.Errorf("bad signature %q", hdr[0:4])
	}
	coffFiles := binary.LittleEndian.Uint32(hdr[16:20])
	if hdr[24] != versionMinor || hdr[25] != versionMajor {
		return fmt.Errorf("unsupported version %d.%d", hdr[25], hdr[24])
	}
	cFolders := binary.LittleEndian.Uint16(hdr[26:28])
	cFiles := binary.LittleEndian.Uint16(hdr[28:30])
	flags := binary.LittleEndian.Uint16(hdr[30:32])

	if flags&(flagPrevCabinet|flagNextCabinet) != 0 {
		return fmt.Errorf("multi-cabinet sets are not supported")
	}

	folderReserve := 0
	if flags&flagReservePresent != 0 {
		var res [4]byte
		if _, err := io.ReadFull(c.f, res[:]); err != nil {
			return fmt.Errorf("failed to read reserve header: %w", err)
		}
		headerReserve := int(binary.LittleEndian.Uint16(res[0:2]))
		folderReserve = int(res[2])
		c.dataReserve = int(res[3])
		if headerReserve > 0 {
			if _, err := c.f.Seek(int64(headerReserve), io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to skip header reserve: %w", err)
			}
		}
	}

	c.folders = make([]cfFolder, cFolders)
	buf := make([]byte, folderSize+folderReserve)
	for i := range c.folders {
		if _, err := io.ReadFull(c.f, buf); err != nil {
			return fmt.Errorf("failed to read folder %d: %w", i, err)
		}
		c.folders[i] = cfFolder{
			dataOffset:  binary.LittleEndian.Uint32(buf[0:4]),
			blockCount:  binary.LittleEndian.Uint16(buf[4:6]),
			compression: binary.LittleEndian.Uint16(buf[6:8]) & 0x000F,
		}
	}

	if _, err := c.f.Seek(int64(coffFiles), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to file table: %w", err)
	}
	br := bufio.NewReader(c.f)
	c.files = make([]cfFile, 0, cFiles)
	c.entries = make([]Entry, 0, cFiles)
	var fixed [16]byte
	for i := 0; i < int(cFiles); i++ {
		if _, err := io.ReadFull(br, fixed[:]); err != nil {
			return fmt.Errorf("failed to read file entry %d: %w", i, err)
		}
		name, err := br.ReadString(0)
		if err != nil {
			return fmt.Errorf("failed to read file name %d: %w", i, err)
		}
		fe := cfFile{
			size:         binary.LittleEndian.Uint32(fixed[0:4]),
			folderOffset: binary.LittleEndian.Uint32(fixed[4:8]),
			folderIndex:  binary.LittleEndian.Uint16(fixed[8:10]),
			date:         binary.LittleEndian.Uint16(fixed[10:12]),
			time:         binary.LittleEndian.Uint16(fixed[12:14]),
			name:         strings.TrimSuffix(name, "\x00"),
		}
		if fe.folderIndex > maxFolderIndex {
			return fmt.Errorf("file %s is continued across cabinets", fe.name)
		}
		if int(fe.folderIndex) >= len(c.folders) {
			return fmt.Errorf("file %s references folder %d of %d", fe.name, fe.folderIndex, len(c.folders))
		}
		c.files = append(c.files, fe)
		c.entries = append(c.entries, Entry{Name: fe.name, Size: int64(fe.size)})
	}
	return nil
}

// folderReader yields the uncompressed byte stream of one folder, decoding
// CFDATA blocks on demand. MSZIP history carries across blocks within the
// folder, as the format requires.
type folderReader struct {
	src         *os.File
	compression uint16
	blocksLeft  int
	reserve     int

	cur     []byte
	history []byte
}

func (r *folderReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.blocksLeft == 0 {
			return 0, io.EOF
		}
		if err := r.readBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *folderReader) readBlock() error {
	hdr := make([]byte, 8+r.reserve)
	if _, err := io.ReadFull(r.src, hdr); err != nil {
		return fmt.Errorf("failed to read data block header: %w", err)
	}
	csum := binary.LittleEndian.Uint32(hdr[0:4])
	cbData := binary.LittleEndian.Uint16(hdr[4:6])
	cbUncomp := binary.LittleEndian.Uint16(hdr[6:8])
	if cbUncomp == 0 {
		return fmt.Errorf("data block spans cabinet boundary")
	}

	data := make([]byte, cbData)
	if _, err := io.ReadFull(r.src, data); err != nil {
		return fmt.Errorf("failed to read data block: %w", err)
	}
	if csum != 0 && blockChecksum(data, cbData, cbUncomp) != csum {
		return fmt.Errorf("data block checksum mismatch")
	}
	r.blocksLeft--

	switch r.compression {
	case compressNone:
		if int(cbUncomp) != len(data) {
			return fmt.Errorf("stored block length %d does not match declared %d", len(data), cbUncomp)
		}
		r.cur = data
	case compressMSZIP:
		if len(data) < 2 || data[0] != 'C' || data[1] != 'K' {
			return fmt.Errorf("missing MSZIP block signature")
		}
		fr := flate.NewReaderDict(bytes.NewReader(data[2:]), r.history)
		out := make([]byte, cbUncomp)
		if _, err := io.ReadFull(fr, out); err != nil {
			return fmt.Errorf("failed to inflate MSZIP block: %w", err)
		}
		fr.Close()
		r.cur = out
		r.history = append(r.history, out...)
		if excess := len(r.history) - blockSize; excess > 0 {
			r.history = r.history[excess:]
		}
	default:
		return fmt.Errorf("unsupported compression type %#04x", r.compression)
	}
	return nil
}

// entryReader limits a folder stream to one entry and owns the file handle.
type entryReader struct {
	r   io.Reader
	src *os.File
}

func (e *entryReader) Read(p []byte) (int, error) { return e.r.Read(p) }

func (e *entryReader) Close() error { return e.src.Close() }
