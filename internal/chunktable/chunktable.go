// Package chunktable implements the chunk table described in design
// §4.3: a dense array mapping logical chunk index to the segment and
// on-disk location that holds its (possibly compressed) bytes, built
// by concatenating each segment's "table" section entries in order.
package chunktable

import (
	"encoding/binary"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/codec"
)

// CompressedFlag is the MSB that a raw 32-bit table entry uses to mark
// a chunk as stored compressed (spec §3, §4.3).
const CompressedFlag = uint32(1) << 31

// TableHeaderSize is the fixed header every table/table2 payload opens
// with: a 4-byte entry count, 16 bytes of reserved padding, and a
// 4-byte Adler-32 over those first 20 bytes (design §4.3, grounded on
// the teacher's TableSection.EntryNumber/Padding/CheckSum layout in
// ewf.go's ParseTable).
const TableHeaderSize = 24

// tableChecksummedHeaderSize is the portion of the header the header
// checksum itself covers (the count and the padding, not the checksum
// field).
const tableChecksummedHeaderSize = 20

// TableFooterSize is the trailing Adler-32 over the entry array that
// closes out a table/table2 payload.
const TableFooterSize = 4

// MaxEntriesConservative is the minimum documented per-(sectors,table,table2)
// triple entry ceiling across dialects (design §4.3's Open Question:
// "choose the conservative minimum (16,375) unless a dialect-specific
// test image demonstrates a higher bound").
const MaxEntriesConservative = 16375

// MaxEntriesEncase6 is the higher ceiling EnCase 6/7 and Ex01 images
// are documented to use.
const MaxEntriesEncase6 = 65534

// Entry describes where one logical chunk's bytes live.
type Entry struct {
	SegmentIndex  int
	Offset        int64 // file offset of the stored chunk bytes
	StoredLength  int64 // length of the stored (possibly compressed) bytes
	Compressed    bool
	HasTrailingCS bool // uncompressed chunks carry a trailing Adler-32
	IsDelta       bool
	IsMissing     bool
}

// Table is the dense offsets[0..N-1] array built from every segment's
// table sections, in segment order (design §4.3).
type Table struct {
	entries []Entry
}

// New creates an empty table.
func New() *Table { return &Table{} }

// Len returns the number of chunks currently known.
func (t *Table) Len() int { return len(t.entries) }

// Lookup resolves a logical chunk index to its descriptor.
func (t *Table) Lookup(chunkIndex int) (Entry, error) {
	if chunkIndex < 0 || chunkIndex >= len(t.entries) {
		return Entry{}, ewferr.New(ewferr.MissingChunk, "chunk index out of range").
			WithDetail("chunk_index", chunkIndex)
	}
	e := t.entries[chunkIndex]
	if e.IsMissing {
		return Entry{}, ewferr.New(ewferr.MissingChunk, "chunk table entry unreadable").
			WithDetail("chunk_index", chunkIndex)
	}
	return e, nil
}

// Raw exposes the entries slice directly, without copying it.
func (t *Table) Raw() []Entry { return t.entries }

// DecodeRawEntries parses a full table/table2 section payload — the
// TableHeaderSize header, the 32-bit entry array (each entry: 31-bit
// offset + compressed MSB, per spec §3/§4.3), and the trailing
// TableFooterSize Adler-32 — into chunk-table entries, deriving stored
// lengths from the gaps between successive offsets and the enclosing
// sectors section's payload length for the final entry. Both the
// header and footer checksums are validated; a mismatch returns
// BadSectionHeader so the caller can fall back to the section's
// redundant table2/table copy (design §4.3, scenario S5).
func DecodeRawEntries(segmentIndex int, sectorsPayloadOffset int64, sectorsPayloadLength int64, raw []byte) ([]Entry, error) {
	if len(raw) < TableHeaderSize+TableFooterSize {
		return nil, ewferr.New(ewferr.BadSectionHeader, "table payload shorter than its header and footer")
	}

	headerChecksum := binary.LittleEndian.Uint32(raw[tableChecksummedHeaderSize:TableHeaderSize])
	if codec.Adler32(raw[:tableChecksummedHeaderSize]) != headerChecksum {
		return nil, ewferr.New(ewferr.BadSectionHeader, "table header checksum mismatch")
	}

	declaredCount := int(binary.LittleEndian.Uint32(raw[0:4]))
	entryBytes := raw[TableHeaderSize : len(raw)-TableFooterSize]
	if len(entryBytes)%4 != 0 || declaredCount != len(entryBytes)/4 {
		return nil, ewferr.New(ewferr.BadSectionHeader, "table entry count does not match payload length")
	}

	footerChecksum := binary.LittleEndian.Uint32(raw[len(raw)-TableFooterSize:])
	if codec.Adler32(entryBytes) != footerChecksum {
		return nil, ewferr.New(ewferr.BadSectionHeader, "table entry array checksum mismatch")
	}

	count := len(entryBytes) / 4
	offsets := make([]uint32, count)
	for i := 0; i < count; i++ {
		offsets[i] = binary.LittleEndian.Uint32(entryBytes[i*4:])
	}

	entries := make([]Entry, count)
	for i, word := range offsets {
		compressed := word&CompressedFlag != 0
		relOffset := int64(word &^ CompressedFlag)

		var length int64
		if i+1 < count {
			nextOffset := int64(offsets[i+1] &^ CompressedFlag)
			length = nextOffset - relOffset
		} else {
			length = sectorsPayloadLength - relOffset
		}
		if length < 0 {
			return nil, ewferr.New(ewferr.BadSectionHeader, "negative derived chunk length").
				WithDetail("chunk_index", i)
		}

		entries[i] = Entry{
			SegmentIndex:  segmentIndex,
			Offset:        sectorsPayloadOffset + relOffset,
			StoredLength:  length,
			Compressed:    compressed,
			HasTrailingCS: !compressed,
		}
	}
	return entries, nil
}

// EntryCountHint estimates how many entries a table payload held from
// its raw length alone, for marking a range missing when both the
// table and table2 copies failed to decode and the declared count
// inside the payload can't be trusted.
func EntryCountHint(raw []byte) int {
	n := len(raw) - TableHeaderSize - TableFooterSize
	if n <= 0 {
		return 0
	}
	return n / 4
}

// AppendSegmentEntries adds a decoded segment's worth of entries to
// the dense table, in segment order.
func (t *Table) AppendSegmentEntries(entries []Entry) {
	t.entries = append(t.entries, entries...)
}

// MarkRangeMissing flags a contiguous range as unreadable — used when
// both a segment's table and table2 sections fail validation (design
// §4.3: "the affected range is marked is_missing").
func (t *Table) MarkRangeMissing(start, count int) {
	for i := start; i < start+count && i < len(t.entries); i++ {
		t.entries[i].IsMissing = true
	}
}

// EncodeRawEntries serializes chunk-table entries into a full
// table/table2 section payload: the TableHeaderSize header (entry
// count, padding, header checksum), the packed 32-bit
// (offset|compressed-flag) array relative to the enclosing sectors
// section's payload offset, and a trailing Adler-32 footer over that
// array — the inverse of DecodeRawEntries.
func EncodeRawEntries(entries []Entry, sectorsPayloadOffset int64) []byte {
	entryBytes := make([]byte, len(entries)*4)
	for i, e := range entries {
		rel := uint32(e.Offset - sectorsPayloadOffset)
		if e.Compressed {
			rel |= CompressedFlag
		}
		binary.LittleEndian.PutUint32(entryBytes[i*4:], rel)
	}

	out := make([]byte, TableHeaderSize+len(entryBytes)+TableFooterSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(entries)))
	headerChecksum := codec.Adler32(out[:tableChecksummedHeaderSize])
	binary.LittleEndian.PutUint32(out[tableChecksummedHeaderSize:TableHeaderSize], headerChecksum)
	copy(out[TableHeaderSize:], entryBytes)
	footerChecksum := codec.Adler32(entryBytes)
	binary.LittleEndian.PutUint32(out[len(out)-TableFooterSize:], footerChecksum)
	return out
}

// Builder accumulates entries for the table/table2 pair currently
// being written, enforcing the dialect's maximum entry count (design
// §4.3: "no table section spans more than a dialect-specific maximum
// entry count").
type Builder struct {
	MaxEntries int
	pending    []Entry
}

// NewBuilder creates a Builder bounded by maxEntries (pass
// MaxEntriesConservative unless the dialect is known to support more).
func NewBuilder(maxEntries int) *Builder {
	if maxEntries <= 0 {
		maxEntries = MaxEntriesConservative
	}
	return &Builder{MaxEntries: maxEntries}
}

// Add appends one chunk's descriptor to the in-progress table,
// reporting whether the caller must now close out the current
// sectors/table/table2 triple and start a new one.
func (b *Builder) Add(e Entry) (full bool) {
	b.pending = append(b.pending, e)
	return len(b.pending) >= b.MaxEntries
}

// Len reports the number of entries accumulated so far.
func (b *Builder) Len() int { return len(b.pending) }

// Flush returns the accumulated entries and resets the builder for the
// next triple.
func (b *Builder) Flush() []Entry {
	out := b.pending
	b.pending = nil
	return out
}
