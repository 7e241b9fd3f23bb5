package media

import (
	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

// ResumePoint describes where a write-resume scan determined the last
// intact sectors/table pair ends, so the writer can truncate any
// partial tail and continue from there (design §4.4's "Write-resume").
type ResumePoint struct {
	SegmentIndex  int
	TailOffset    int64 // byte offset to truncate the segment to
	ChunksWritten int
}

// ScanForResume walks the last segment in pool looking for the last
// sectors/table(/table2) triple that was fully written (i.e. followed
// by a structurally valid "table" section), following design §4.4:
// "locates the last successfully written sectors/table pair lacking a
// trailing done, truncates the partial tail, and positions the write
// cursor immediately after."
func ScanForResume(pool segio.Pool) (*ResumePoint, error) {
	count := pool.Count()
	if count == 0 {
		return &ResumePoint{SegmentIndex: 0, TailOffset: section.FileHeaderSize}, nil
	}

	lastIndex := count - 1
	seg, err := pool.Open(lastIndex)
	if err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "open last segment for resume scan")
	}

	reader, err := section.NewReader(seg)
	if err != nil {
		return nil, err
	}

	resume := &ResumePoint{SegmentIndex: lastIndex, TailOffset: section.FileHeaderSize}
	chunksWritten := 0
	var pendingSectorsEnd int64 = -1

	for {
		h, err := reader.Next()
		if err != nil {
			// A corrupt trailing section is exactly the partial tail
			// write-resume exists to discard; stop at the last good point.
			break
		}
		if h == nil {
			break
		}

		switch h.Kind {
		case section.KindSectors:
			pendingSectorsEnd = int64(h.NextOffset)
		case section.KindTable:
			if pendingSectorsEnd > 0 {
				payload, err := reader.Payload(h)
				if err == nil {
					chunksWritten += chunktable.EntryCountHint(payload)
					resume.TailOffset = int64(h.NextOffset)
					pendingSectorsEnd = -1
				}
			}
		case section.KindDone:
			return nil, ewferr.New(ewferr.State, "image already has a terminal done section; nothing to resume")
		}
	}

	resume.ChunksWritten = chunksWritten
	return resume, nil
}
