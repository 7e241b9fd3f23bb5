// Package section implements the tagged section envelope described in
// design §4.2 and spec §6: an iterator that walks a segment file
// reading the 76-byte section headers, and a builder that appends new
// sections to a segment being written. The envelope Adler-32 and
// payload dispatch live here; the *meaning* of each section's payload
// is decoded/encoded by its caller (internal/metadata, internal/chunktable, …).
package section

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/segio"
)

// HeaderSize is the fixed on-disk size of a section header (spec §6).
const HeaderSize = 76

// ChecksummedSize is the span covered by the header's own Adler-32
// (everything except the checksum field itself).
const ChecksummedSize = 72

// Kind is a 16-byte ASCII section type tag.
type Kind string

const (
	KindHeader  Kind = "header"
	KindHeader2 Kind = "header2"
	KindXHeader Kind = "xheader"
	KindVolume  Kind = "volume"
	KindDisk    Kind = "disk"
	KindData    Kind = "data"
	KindSectors Kind = "sectors"
	KindTable   Kind = "table"
	KindTable2  Kind = "table2"
	KindDigest  Kind = "digest"
	KindHash    Kind = "hash"
	KindXHash   Kind = "xhash"
	KindError2  Kind = "error2"
	KindSession Kind = "session"
	KindLtree   Kind = "ltree"
	KindLtype   Kind = "ltype"
	KindMap     Kind = "map"
	KindNext    Kind = "next"
	KindDone    Kind = "done"
)

// knownKinds is used by the reader to distinguish a structurally
// corrupt header from a merely-unrecognized one (spec §4.2:
// UnknownSection is non-fatal).
var knownKinds = map[Kind]bool{
	KindHeader: true, KindHeader2: true, KindXHeader: true,
	KindVolume: true, KindDisk: true, KindData: true,
	KindSectors: true, KindTable: true, KindTable2: true,
	KindDigest: true, KindHash: true, KindXHash: true,
	KindError2: true, KindSession: true, KindLtree: true,
	KindLtype: true, KindMap: true, KindNext: true, KindDone: true,
}

// IsKnownKind reports whether kind is one of the tags this library
// understands. Unknown kinds are skipped, not fatal (spec §4.2).
func IsKnownKind(k Kind) bool { return knownKinds[k] }

// Header is the parsed, in-memory form of a section's 76-byte prefix.
type Header struct {
	Kind           Kind
	Offset         int64 // file offset of this header
	NextOffset     uint64
	Size           uint64 // total section size, including the header
	headerChecksum uint32
}

// PayloadOffset is the file offset immediately following the header.
func (h *Header) PayloadOffset() int64 { return h.Offset + HeaderSize }

// PayloadLength is the size of the payload following the header.
func (h *Header) PayloadLength() int64 {
	n := int64(h.Size) - HeaderSize
	if n < 0 {
		return 0
	}
	return n
}

// wireHeader is the exact byte layout from spec §6.
type wireHeader struct {
	Type     [16]byte
	Next     uint64
	Size     uint64
	Padding  [40]byte
	Checksum uint32
}

// ReadHeader reads and validates the section header at offset,
// returning BadSectionHeader on an Adler-32 mismatch.
func ReadHeader(seg segio.Segment, offset int64) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := seg.ReadAt(buf, offset); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "read section header")
	}

	var wh wireHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &wh); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "decode section header")
	}

	calculated := adler32.Checksum(buf[:ChecksummedSize])
	if calculated != wh.Checksum {
		return nil, ewferr.New(ewferr.BadSectionHeader, "section header Adler-32 mismatch").
			WithDetail("offset", offset).
			WithDetail("expected", wh.Checksum).
			WithDetail("calculated", calculated)
	}

	kind := Kind(bytes.TrimRight(wh.Type[:], "\x00"))
	return &Header{
		Kind:           kind,
		Offset:         offset,
		NextOffset:     wh.Next,
		Size:           wh.Size,
		headerChecksum: wh.Checksum,
	}, nil
}

// WriteHeader serializes and writes a section header at offset,
// computing the Adler-32 itself.
func WriteHeader(seg segio.Segment, offset int64, kind Kind, nextOffset, size uint64) error {
	var wh wireHeader
	copy(wh.Type[:], kind)
	wh.Next = nextOffset
	wh.Size = size

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &wh); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "encode section header")
	}
	raw := buf.Bytes()
	checksum := adler32.Checksum(raw[:ChecksummedSize])
	binary.LittleEndian.PutUint32(raw[ChecksummedSize:], checksum)

	if _, err := seg.WriteAt(raw, offset); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "write section header")
	}
	return nil
}

// ReadPayload reads a section's raw payload bytes.
func ReadPayload(seg segio.Segment, h *Header) ([]byte, error) {
	buf := make([]byte, h.PayloadLength())
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := seg.ReadAt(buf, h.PayloadOffset()); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "read section payload")
	}
	return buf, nil
}
