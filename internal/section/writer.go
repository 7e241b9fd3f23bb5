package section

import (
	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/segio"
)

// Writer appends sections to the tail of a segment being written,
// tracking the running offset so NextOffset fields can be filled in
// once the following section's position is known (design §4.2's
// "builder context" that encoders append to).
type Writer struct {
	seg    segio.Segment
	cursor int64
}

// NewWriter creates a Writer positioned at the given cursor (typically
// FileHeaderSize for a fresh segment, or the recovered write-resume
// position for an existing one).
func NewWriter(seg segio.Segment, cursor int64) *Writer {
	return &Writer{seg: seg, cursor: cursor}
}

// Tell returns the writer's current tail offset.
func (w *Writer) Tell() int64 { return w.cursor }

// Reposition moves the writer's cursor directly, used by callers (the
// media engine's streaming sectors-section path) that write section
// payload bytes incrementally via the underlying segment rather than
// through Append, and need to resynchronize the cursor once a section
// they built by hand has been closed out.
func (w *Writer) Reposition(offset int64) { w.cursor = offset }

// Append writes a complete section (header + payload) at the current
// tail, advancing the cursor. The header's next-offset is always the
// position immediately following this section; the self-referential
// terminal sections ("next"/"done") are written by AppendTerminal.
func (w *Writer) Append(kind Kind, payload []byte) error {
	offset := w.cursor
	size := uint64(HeaderSize + len(payload))
	next := uint64(offset) + size

	if err := WriteHeader(w.seg, offset, kind, next, size); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.seg.WriteAt(payload, offset+HeaderSize); err != nil {
			return ewferr.Wrap(ewferr.IO, err, "write section payload")
		}
	}
	w.cursor = int64(next)
	return nil
}

// AppendTerminal writes a zero-payload terminal section ("next" or
// "done") whose NextOffset is self-referential, the convention design
// §3 describes for the final section in a segment/image.
func (w *Writer) AppendTerminal(kind Kind) error {
	offset := w.cursor
	size := uint64(HeaderSize)
	if err := WriteHeader(w.seg, offset, kind, uint64(offset), size); err != nil {
		return err
	}
	w.cursor = offset + HeaderSize
	return nil
}
