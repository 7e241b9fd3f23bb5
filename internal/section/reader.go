package section

import (
	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/segio"
)

// FileHeaderSize is the fixed 13-byte segment file prefix preceding
// the first section (spec §6).
const FileHeaderSize = 13

// EVFSignature is the magic the teacher's EWFFileHeader.EVFSignature
// checks for EnCase/FTK/SMART-family dialects.
var EVFSignature = [8]byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}

// LVFSignature is the L01 logical-evidence-file magic.
var LVFSignature = [8]byte{'L', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}

// FileHeader is the 13-byte prefix of every segment file.
type FileHeader struct {
	Signature     [8]byte
	FieldsStart   uint8
	SegmentNumber uint16
	FieldsEnd     uint16
}

// ReadFileHeader reads and validates the segment file prefix.
func ReadFileHeader(seg segio.Segment) (*FileHeader, error) {
	buf := make([]byte, FileHeaderSize)
	if _, err := seg.ReadAt(buf, 0); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "read segment file header")
	}
	fh := &FileHeader{}
	copy(fh.Signature[:], buf[0:8])
	fh.FieldsStart = buf[8]
	fh.SegmentNumber = uint16(buf[9]) | uint16(buf[10])<<8
	fh.FieldsEnd = uint16(buf[11]) | uint16(buf[12])<<8

	if fh.Signature != EVFSignature && fh.Signature != LVFSignature {
		return nil, ewferr.New(ewferr.Unsupported, "unrecognized segment file signature")
	}
	return fh, nil
}

// WriteFileHeader writes the 13-byte segment file prefix.
func WriteFileHeader(seg segio.Segment, signature [8]byte, segmentNumber uint16) error {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:8], signature[:])
	buf[8] = 1
	buf[9] = byte(segmentNumber)
	buf[10] = byte(segmentNumber >> 8)
	buf[11] = 0
	buf[12] = 0
	if _, err := seg.WriteAt(buf, 0); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "write segment file header")
	}
	return nil
}

// Reader lazily enumerates the sections of a single segment, in the
// shape design §4.2 describes: callers pull one Header at a time and
// may fetch its payload on demand.
type Reader struct {
	seg        segio.Segment
	size       int64
	nextOffset int64
	done       bool

	// UnknownCount tracks UnknownSection occurrences for the handle's
	// diagnostic counters (spec §7: non-fatal, recorded).
	UnknownCount int
}

// NewReader creates a Reader positioned just past the segment file
// header, ready to enumerate sections.
func NewReader(seg segio.Segment) (*Reader, error) {
	size, err := seg.Size()
	if err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "stat segment")
	}
	return &Reader{seg: seg, size: size, nextOffset: FileHeaderSize}, nil
}

// Next returns the next section header, or (nil, nil) once a done/next
// section or end-of-segment has been consumed.
func (r *Reader) Next() (*Header, error) {
	if r.done {
		return nil, nil
	}
	if r.nextOffset < 0 || r.nextOffset >= r.size {
		r.done = true
		return nil, nil
	}

	h, err := ReadHeader(r.seg, r.nextOffset)
	if err != nil {
		return nil, err
	}

	if !IsKnownKind(h.Kind) {
		r.UnknownCount++
	}

	isTerminal := h.Kind == KindDone || h.Kind == KindNext
	if !isTerminal && int64(h.NextOffset) <= r.nextOffset {
		return nil, ewferr.New(ewferr.SectionOverflow, "non-terminal section does not advance").
			WithDetail("offset", r.nextOffset).
			WithDetail("next_offset", h.NextOffset)
	}

	if isTerminal {
		r.done = true
	} else {
		r.nextOffset = int64(h.NextOffset)
	}
	return h, nil
}

// Payload reads the payload bytes for a header previously returned by
// Next.
func (r *Reader) Payload(h *Header) ([]byte, error) {
	return ReadPayload(r.seg, h)
}
