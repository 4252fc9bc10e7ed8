// Package dirent implements the directory-entry layer of L2: 8.3 short
// entries, the sector-at-a-time scan state machine, and filename
// normalization (spec §3, §4.4, §4.5).
package dirent

import (
	"encoding/binary"

	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/blockio"
	"github.com/embedfat/fat32/internal/chainfat"
)

// EntrySize is the size, in bytes, of one packed directory entry (§3).
const EntrySize = 32

// EntriesPerSector is the number of 32-byte entries in one 512-byte sector.
const EntriesPerSector = 512 / EntrySize

// Attribute flags (§3). Bit 4 is the directory bit, bit 5 the archive bit;
// the rest mirror the teacher's drivers/fat/common.go assignments.
const (
	AttrReadOnly    = 1 << 0
	AttrHidden      = 1 << 1
	AttrSystem      = 1 << 2
	AttrVolumeLabel = 1 << 3
	AttrDirectory   = 1 << 4
	AttrArchive     = 1 << 5
)

// First-byte sentinels (§3).
const (
	FreeMarker    = 0x00
	DeletedMarker = 0xE5
)

// AttrFilter selects which kind of entry a scan or resolve operation is
// looking for (§4.4 mode 2, §4.6).
type AttrFilter int

const (
	FilterEither AttrFilter = iota
	FilterDirectoryOnly
	FilterArchiveOnly
)

// Matches reports whether an entry's attribute byte satisfies the filter.
func (f AttrFilter) Matches(attr byte) bool {
	isDir := attr&AttrDirectory != 0
	switch f {
	case FilterDirectoryOnly:
		return isDir
	case FilterArchiveOnly:
		return !isDir
	default:
		return true
	}
}

// Entry is the decoded form of one 32-byte on-disk directory record.
type Entry struct {
	Name       [11]byte
	Attr       byte
	CreateTime uint16
	CreateDate uint16
	AccessDate uint16
	WriteTime  uint16
	WriteDate  uint16
	Cluster    uint32
	Size       uint32
}

// IsFree reports whether this slot is unused and available for reuse (first
// byte 0x00 or 0xE5, §3 lifecycle).
func (e Entry) IsFree() bool {
	return e.Name[0] == FreeMarker || e.Name[0] == DeletedMarker
}

// IsEndOfDirectory reports whether this slot is the end-of-directory marker
// (§3: first byte 0x00).
func (e Entry) IsEndOfDirectory() bool {
	return e.Name[0] == FreeMarker
}

// IsDirectory reports whether the directory bit is set (§3).
func (e Entry) IsDirectory() bool {
	return e.Attr&AttrDirectory != 0
}

// Decode parses 32 bytes into an Entry. Field order matches §3 exactly.
func Decode(b []byte) Entry {
	var e Entry
	copy(e.Name[:], b[0:11])
	e.Attr = b[11]
	e.CreateTime = binary.LittleEndian.Uint16(b[14:16])
	e.CreateDate = binary.LittleEndian.Uint16(b[16:18])
	e.AccessDate = binary.LittleEndian.Uint16(b[18:20])
	clusterHigh := binary.LittleEndian.Uint16(b[20:22])
	e.WriteTime = binary.LittleEndian.Uint16(b[22:24])
	e.WriteDate = binary.LittleEndian.Uint16(b[24:26])
	clusterLow := binary.LittleEndian.Uint16(b[26:28])
	e.Size = binary.LittleEndian.Uint32(b[28:32])
	e.Cluster = uint32(clusterHigh)<<16 | uint32(clusterLow)
	return e
}

// Encode packs e into 32 bytes at b[:32].
func (e Entry) Encode(b []byte) {
	copy(b[0:11], e.Name[:])
	b[11] = e.Attr
	b[12] = 0 // NT-reserved
	b[13] = 0 // create-time hundredths, unused by this driver
	binary.LittleEndian.PutUint16(b[14:16], e.CreateTime)
	binary.LittleEndian.PutUint16(b[16:18], e.CreateDate)
	binary.LittleEndian.PutUint16(b[18:20], e.AccessDate)
	binary.LittleEndian.PutUint16(b[20:22], uint16(e.Cluster>>16))
	binary.LittleEndian.PutUint16(b[22:24], e.WriteTime)
	binary.LittleEndian.PutUint16(b[24:26], e.WriteDate)
	binary.LittleEndian.PutUint16(b[26:28], uint16(e.Cluster))
	binary.LittleEndian.PutUint32(b[28:32], e.Size)
}

// DateTime is the caller-supplied 32-bit FAT timestamp (high 16 bits date,
// low 16 bits time) that every mutating operation takes in place of a clock
// dependency (§1: "clock source ... is an external collaborator").
type DateTime uint32

func (d DateTime) Date() uint16 { return uint16(d >> 16) }
func (d DateTime) Time() uint16 { return uint16(d) }

// Cursor is the (cluster, sector-within-cluster) scan position of §4.4.
type Cursor struct {
	Cluster         uint32
	SectorInCluster uint32
}

// Scanner walks a directory's entry list one sector at a time, per §4.4's
// three-state advancement (load-sector, check-tail, advance-cursor). It
// never buffers more than the one sector currently loaded into the shared
// I/O buffer.
type Scanner struct {
	chain  *chainfat.Chain
	io     *blockio.IO
	cursor Cursor
}

// NewScanner starts a scan at the first sector of startCluster.
func NewScanner(chain *chainfat.Chain, io *blockio.IO, startCluster uint32) *Scanner {
	return &Scanner{chain: chain, io: io, cursor: Cursor{Cluster: startCluster}}
}

// Position returns the scanner's current position, so callers (e.g. Insert,
// which needs to resume exactly where a search left off) can record it.
func (s *Scanner) Position() Cursor {
	return s.cursor
}

// SeekTo repositions the scanner without touching the shared buffer.
func (s *Scanner) SeekTo(c Cursor) {
	s.cursor = c
}

// Entries decodes the 16 entries of the sector currently loaded into the
// shared buffer. Call this only immediately after Step.
func (s *Scanner) Entries() [EntriesPerSector]Entry {
	var out [EntriesPerSector]Entry
	for i := 0; i < EntriesPerSector; i++ {
		out[i] = Decode(s.io.Buffer[i*EntrySize : i*EntrySize+EntrySize])
	}
	return out
}

// Step loads the sector at the scanner's current cursor into the shared
// buffer, then advances the cursor for the next call. It returns errs.Ok
// when the sector just loaded is the directory's last sector -- either
// because its final entry (#15) begins with 0x00 (the end-of-directory
// marker, §3) or because the cluster chain has no further cluster -- and
// errs.MoreData otherwise.
func (s *Scanner) Step() (errs.Code, error) {
	sector := s.chain.FirstSectorOfCluster(s.cursor.Cluster) + s.cursor.SectorInCluster
	if err := s.io.Load(sector); err != nil {
		return errs.IoError, errs.Wrap(errs.IoError, err)
	}

	lastEntryOffset := (EntriesPerSector - 1) * EntrySize
	if s.io.Buffer[lastEntryOffset] == FreeMarker {
		return errs.Ok, nil
	}

	if s.cursor.SectorInCluster+1 < s.chain.SectorsPerCluster() {
		s.cursor.SectorInCluster++
		return errs.MoreData, nil
	}

	next, err := s.chain.Follow(s.cursor.Cluster)
	if err != nil {
		return errs.Ok, err
	}
	if chainfat.IsEOC(next) || chainfat.IsFree(next) {
		return errs.Ok, nil
	}
	s.cursor.Cluster = next
	s.cursor.SectorInCluster = 0
	return errs.MoreData, nil
}

// reservedChars are the bytes §4.5 forbids in a normalized 11-byte name,
// beyond control bytes (< 0x20).
var reservedChars = map[byte]bool{
	'\\': true, '/': true, ':': true, '*': true,
	'?': true, '"': true, '<': true, '>': true, '|': true,
}

// Normalize converts a filename component into an 11-byte, space-padded,
// ASCII-uppercase 8.3 slot (§4.5). "." and ".." map to their reserved forms.
func Normalize(component string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	switch component {
	case ".":
		out[0] = '.'
		return out, nil
	case "..":
		out[0] = '.'
		out[1] = '.'
		return out, nil
	}

	name := component
	ext := ""
	if dot := indexByte(component, '.'); dot >= 0 {
		name = component[:dot]
		ext = component[dot+1:]
	}

	for i := 0; i < 8 && i < len(name); i++ {
		out[i] = toUpperASCII(name[i])
	}
	for i := 0; i < 3 && i < len(ext); i++ {
		out[8+i] = toUpperASCII(ext[i])
	}

	for _, b := range out {
		if b < 0x20 || reservedChars[b] {
			return out, errs.New(errs.InvalidFilename)
		}
	}
	return out, nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func toUpperASCII(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
