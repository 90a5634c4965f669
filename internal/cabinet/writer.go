package cabinet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
)

// Builder assembles a new single-folder cabinet. Entry bytes are spooled to a
// temporary file as they arrive, so arbitrarily large archives can be built
// without buffering contents in memory. Finish writes the header and tables,
// then re-reads the spool block by block, compressing as it goes.
type Builder struct {
	path        string
	compression uint16

	spool     *os.File
	spoolSize int64
	files     []pendingFile
	finished  bool
}

type pendingFile struct {
	name       string
	size       uint32
	offset     uint32
	date, time uint16
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStoreCompression disables MSZIP and writes uncompressed data blocks.
func WithStoreCompression() BuilderOption {
	return func(b *Builder) { b.compression = compressNone }
}

// NewBuilder creates a builder that will write the cabinet to path.
func NewBuilder(path string, opts ...BuilderOption) (*Builder, error) {
	spool, err := os.CreateTemp(filepath.Dir(path), ".cabspool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	b := &Builder{path: path, compression: compressMSZIP, spool: spool}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// AddStream appends one named entry, consuming r to its end.
func (b *Builder) AddStream(name string, r io.Reader, modTime time.Time) error {
	if b.finished {
		return fmt.Errorf("builder already finished")
	}
	if name == "" || len(name) > 255 {
		return fmt.Errorf("invalid entry name %q", name)
	}
	if len(b.files) == math.MaxUint16 {
		return fmt.Errorf("too many entries in cabinet")
	}
	n, err := io.Copy(b.spool, r)
	if err != nil {
		return fmt.Errorf("failed to spool entry %s: %w", name, err)
	}
	if b.spoolSize+n > math.MaxUint32 {
		return fmt.Errorf("cabinet folder exceeds 4 GiB")
	}
	date, tm := dosDateTime(modTime)
	b.files = append(b.files, pendingFile{
		name:   name,
		size:   uint32(n),
		offset: uint32(b.spoolSize),
		date:   date,
		time:   tm,
	})
	b.spoolSize += n
	return nil
}

// Close releases the builder without writing a cabinet, removing the spool
// file. Calling Close after Finish is a no-op, so callers can defer it.
func (b *Builder) Close() error {
	if b.finished {
		return nil
	}
	b.finished = true
	name := b.spool.Name()
	err := b.spool.Close()
	os.Remove(name)
	if err != nil {
		return fmt.Errorf("failed to close spool file: %w", err)
	}
	return nil
}

// Finish writes the complete cabinet and removes the spool file. The builder
// cannot be reused afterwards.
func (b *Builder) Finish() (err error) {
	if b.finished {
		return fmt.Errorf("builder already finished")
	}
	b.finished = true
	defer func() {
		name := b.spool.Name()
		b.spool.Close()
		os.Remove(name)
	}()

	out, err := os.Create(b.path)
	if err != nil {
		return fmt.Errorf("failed to create cabinet %s: %w", b.path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close cabinet: %w", cerr)
		}
		if err != nil {
			os.Remove(b.path)
		}
	}()

	if err := b.writeTables(out); err != nil {
		return err
	}
	if err := b.writeDataBlocks(out); err != nil {
		return err
	}

	// Patch cbCabinet now that the final size is known.
	info, err := out.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat cabinet: %w", err)
	}
	if info.Size() > math.MaxUint32 {
		return fmt.Errorf("cabinet exceeds 4 GiB")
	}
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(info.Size()))
	if _, err := out.WriteAt(sz[:], 8); err != nil {
		return fmt.Errorf("failed to patch cabinet size: %w", err)
	}
	return nil
}

func (b *Builder) writeTables(out *os.File) error {
	fileTable := &bytes.Buffer{}
	for _, fe := range b.files {
		var fixed [16]byte
		binary.LittleEndian.PutUint32(fixed[0:4], fe.size)
		binary.LittleEndian.PutUint32(fixed[4:8], fe.offset)
		binary.LittleEndian.PutUint16(fixed[8:10], 0) // single folder
		binary.LittleEndian.PutUint16(fixed[10:12], fe.date)
		binary.LittleEndian.PutUint16(fixed[12:14], fe.time)
		binary.LittleEndian.PutUint16(fixed[14:16], fileAttrs(fe.name))
		fileTable.Write(fixed[:])
		fileTable.WriteString(fe.name)
		fileTable.WriteByte(0)
	}

	coffFiles := uint32(headerSize + folderSize)
	dataOffset := coffFiles + uint32(fileTable.Len())
	blockCount := (b.spoolSize + blockSize - 1) / blockSize
	if blockCount > math.MaxUint16 {
		return fmt.Errorf("folder requires %d data blocks, limit is %d", blockCount, math.MaxUint16)
	}

	var hdr [headerSize]byte
	copy(hdr[0:4], signature)
	// cbCabinet at offset 8 is patched in Finish.
	binary.LittleEndian.PutUint32(hdr[16:20], coffFiles)
	hdr[24] = versionMinor
	hdr[25] = versionMajor
	binary.LittleEndian.PutUint16(hdr[26:28], 1)
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(b.files)))
	if _, err := out.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var fol [folderSize]byte
	binary.LittleEndian.PutUint32(fol[0:4], dataOffset)
	binary.LittleEndian.PutUint16(fol[4:6], uint16(blockCount))
	binary.LittleEndian.PutUint16(fol[6:8], b.compression)
	if _, err := out.Write(fol[:]); err != nil {
		return fmt.Errorf("failed to write folder entry: %w", err)
	}
	if _, err := out.Write(fileTable.Bytes()); err != nil {
		return fmt.Errorf("failed to write file table: %w", err)
	}
	return nil
}

func (b *Builder) writeDataBlocks(out *os.File) error {
	if _, err := b.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spool: %w", err)
	}

	chunk := make([]byte, blockSize)
	remaining := b.spoolSize
	for remaining > 0 {
		n := int64(blockSize)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(b.spool, chunk[:n]); err != nil {
			return fmt.Errorf("failed to read spool: %w", err)
		}
		block, err := b.compressBlock(chunk[:n])
		if err != nil {
			return err
		}
		var hdr [8]byte
		cbData := uint16(len(block))
		cbUncomp := uint16(n)
		binary.LittleEndian.PutUint32(hdr[0:4], blockChecksum(block, cbData, cbUncomp))
		binary.LittleEndian.PutUint16(hdr[4:6], cbData)
		binary.LittleEndian.PutUint16(hdr[6:8], cbUncomp)
		if _, err := out.Write(hdr[:]); err != nil {
			return fmt.Errorf("failed to write block header: %w", err)
		}
		if _, err := out.Write(block); err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
		remaining -= n
	}
	return nil
}

func (b *Builder) compressBlock(chunk []byte) ([]byte, error) {
	if b.compression == compressNone {
		out := make([]byte, len(chunk))
		copy(out, chunk)
		return out, nil
	}
	buf := &bytes.Buffer{}
	buf.WriteString("CK")
	fw, err := flate.NewWriter(buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create flate writer: %w", err)
	}
	if _, err := fw.Write(chunk); err != nil {
		return nil, fmt.Errorf("failed to compress block: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush block: %w", err)
	}
	if buf.Len() > math.MaxUint16 {
		return nil, fmt.Errorf("compressed block too large")
	}
	return buf.Bytes(), nil
}

func fileAttrs(name string) uint16 {
	attrs := attrArchive
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7F {
			attrs |= attrNameUTF8
			break
		}
	}
	return attrs
}
