// Package cabinet reads and writes cabinet container archives.
//
// Only the subset of the format the catalog pipeline needs is supported:
// single-folder cabinets with store or MSZIP block compression. Entries are
// enumerated from the file table and their contents are streamed one 32 KiB
// data block at a time, so memory use is independent of archive size.
package cabinet

import "time"

const (
	signature = "MSCF"

	headerSize = 36
	folderSize = 8

	versionMajor = 1
	versionMinor = 3

	// blockSize is the maximum number of uncompressed bytes per CFDATA block.
	blockSize = 32768

	compressNone  uint16 = 0x0000
	compressMSZIP uint16 = 0x0001

	flagPrevCabinet    uint16 = 0x0001
	flagNextCabinet    uint16 = 0x0002
	flagReservePresent uint16 = 0x0004

	attrArchive  uint16 = 0x0020
	attrNameUTF8 uint16 = 0x0080

	// iFolder values above this mark files continued from or into
	// neighbouring cabinets of a multi-cabinet set.
	maxFolderIndex = 0xFFFC
)

// Entry describes one named byte stream inside a cabinet.
type Entry struct {
	Name string
	Size int64
}

// checksum implements the cabinet checksum: little-endian 32-bit words XORed
// together, with the trailing 1-3 bytes folded in high-to-low.
func checksum(p []byte, seed uint32) uint32 {
	csum := seed
	n := len(p) &^ 3
	for i := 0; i < n; i += 4 {
		csum ^= uint32(p[i]) | uint32(p[i+1])<<8 | uint32(p[i+2])<<16 | uint32(p[i+3])<<24
	}
	rem := p[n:]
	var ul uint32
	switch len(rem) {
	case 3:
		ul = uint32(rem[0])<<16 | uint32(rem[1])<<8 | uint32(rem[2])
	case 2:
		ul = uint32(rem[0])<<8 | uint32(rem[1])
	case 1:
		ul = uint32(rem[0])
	}
	return csum ^ ul
}

// blockChecksum computes the CFDATA checksum over the data bytes followed by
// the cbData/cbUncomp header fields, matching the reference FCI order.
func blockChecksum(data []byte, cbData, cbUncomp uint16) uint32 {
	hdr := []byte{
		byte(cbData), byte(cbData >> 8),
		byte(cbUncomp), byte(cbUncomp >> 8),
	}
	return checksum(hdr, checksum(data, 0))
}

// dosDateTime converts a timestamp to the packed DOS date and time fields
// used by CFFILE entries. Times before 1980 clamp to the epoch of the format.
func dosDateTime(t time.Time) (date, tm uint16) {
	t = t.UTC()
	if t.Year() < 1980 {
		return 1 | 1<<5, 0
	}
	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tm = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, tm
}

// fromDOSDateTime is the inverse of dosDateTime.
func fromDOSDateTime(date, tm uint16) time.Time {
	year := int(date>>9) + 1980
	month := time.Month(date >> 5 & 0x0F)
	day := int(date & 0x1F)
	hour := int(tm >> 11)
	minute := int(tm >> 5 & 0x3F)
	sec := int(tm&0x1F) * 2
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
}
