package media

import (
	"encoding/binary"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/codec"
	"github.com/ewflib/goewf/internal/metadata"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

// BeginSegment opens (or re-opens) the segment the write path appends
// to; called by the orchestrator once per new segment, including the
// very first one.
func (e *Engine) BeginSegment(seg segio.Segment, writer *section.Writer, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beginSegmentLocked(seg, writer, index)
}

// beginSegmentLocked is the state mutation behind BeginSegment, split
// out so rollSegment (the segment-roll path of design §4.4/scenario
// S3) can reseed write-segment state from a call path that already
// holds e.mu, without re-acquiring the lock.
func (e *Engine) beginSegmentLocked(seg segio.Segment, writer *section.Writer, index int) {
	e.writeSeg = seg
	e.writer = writer
	e.writeSegIndex = index
	e.sectorsHeaderOffset = 0
	e.sectorsPayloadSize = 0
}

// rollSegment closes out the current segment with a "next" terminal
// section, opens a new segment through the pool, stamps its file
// header, and reseeds write state onto it. Called with e.mu already
// held, from flushAssembledChunk/WriteChunk once the current segment
// has reached its configured size ceiling (design §4.4's "Segment
// roll": "On segment-size ceiling, close the current sectors/table/
// table2, emit a next section, open the next segment via the pool").
func (e *Engine) rollSegment() error {
	if err := e.writer.AppendTerminal(section.KindNext); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "append next section for segment roll")
	}

	newIndex, err := e.pool.AddSegment()
	if err != nil {
		return ewferr.Wrap(ewferr.IO, err, "add next segment")
	}
	seg, err := e.pool.Open(newIndex)
	if err != nil {
		return ewferr.Wrap(ewferr.IO, err, "open next segment")
	}

	signature := e.opts.Signature
	if signature == ([8]byte{}) {
		signature = section.EVFSignature
	}
	if err := section.WriteFileHeader(seg, signature, uint16(newIndex+1)); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "write next segment file header")
	}

	writer := section.NewWriter(seg, section.FileHeaderSize)
	e.beginSegmentLocked(seg, writer, newIndex)
	return nil
}

// rollIfNeeded triggers rollSegment once the current segment's writer
// has reached the configured SegmentSizeCeiling. A zero ceiling means
// unbounded (no rollover), matching the teacher's single-segment
// images and dialects that never split.
func (e *Engine) rollIfNeeded() error {
	if e.geometry.SegmentSizeCeiling == 0 {
		return nil
	}
	if e.writer.Tell() < e.geometry.SegmentSizeCeiling {
		return nil
	}
	return e.rollSegment()
}

// openSectorsTriple writes a placeholder "sectors" header at the
// writer's current tail and records the payload start, so chunk bytes
// can be appended directly without knowing the final section size in
// advance.
func (e *Engine) openSectorsTriple() error {
	offset := e.writer.Tell()
	if err := section.WriteHeader(e.writeSeg, offset, section.KindSectors, 0, section.HeaderSize); err != nil {
		return err
	}
	e.sectorsHeaderOffset = offset
	e.sectorsPayloadSize = 0
	e.writer.Reposition(offset + section.HeaderSize)
	return nil
}

// closeSectorsTriple patches the sectors header with its final size
// and next-offset, then appends the table/table2 pair describing every
// chunk written since the triple was opened (design §4.3/§4.4).
func (e *Engine) closeSectorsTriple() error {
	if e.sectorsHeaderOffset == 0 && e.sectorsPayloadSize == 0 && e.tableBuilder.Len() == 0 {
		return nil // nothing pending
	}

	payloadOffset := e.sectorsHeaderOffset + section.HeaderSize
	sectionEnd := payloadOffset + e.sectorsPayloadSize
	totalSize := uint64(section.HeaderSize) + uint64(e.sectorsPayloadSize)

	if err := section.WriteHeader(e.writeSeg, e.sectorsHeaderOffset, section.KindSectors, uint64(sectionEnd), totalSize); err != nil {
		return err
	}

	entries := e.tableBuilder.Flush()
	e.table.AppendSegmentEntries(entries)

	raw := chunktable.EncodeRawEntries(entries, payloadOffset)
	e.writer.Reposition(sectionEnd)
	if err := e.writer.Append(section.KindTable, raw); err != nil {
		return err
	}
	if err := e.writer.Append(section.KindTable2, raw); err != nil {
		return err
	}

	e.sectorsHeaderOffset = 0
	e.sectorsPayloadSize = 0
	return nil
}

// FlushPendingTriple exposes closeSectorsTriple to the orchestrator so
// it can force a table/table2 pair out ahead of a segment roll or a
// final close, without requiring the caller to know the engine's
// internal triple-tracking fields.
func (e *Engine) FlushPendingTriple() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeSectorsTriple()
}

// Write appends bytes at the current write cursor in streaming-append
// mode (design §4.4 write path). Random-access writes go through
// WriteAt, which rejects them whether or not delta mode is enabled.
func (e *Engine) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateWriting && e.state != StateWriteResuming {
		return 0, ewferr.New(ewferr.State, "write called outside Writing/WriteResuming state")
	}

	written := 0
	for written < len(p) {
		if e.aborted.Load() {
			return written, ewferr.New(ewferr.Aborted, "write aborted")
		}

		chunkSize := int(e.chunkSize())
		inChunkOffset := len(e.assembly)
		toCopy := chunkSize - inChunkOffset
		if toCopy > len(p)-written {
			toCopy = len(p) - written
		}
		e.assembly = append(e.assembly, p[written:written+toCopy]...)
		written += toCopy
		e.cursor += int64(toCopy)

		if len(e.assembly) == chunkSize {
			if err := e.flushAssembledChunk(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// flushAssembledChunk compresses (or run-length-encodes, or stores
// raw) one full chunk-sized assembly buffer and appends it to the
// current sectors section, per design §4.4 write path step 2.
func (e *Engine) flushAssembledChunk() error {
	chunk := e.assembly
	e.assembly = nil

	if e.sectorsHeaderOffset == 0 {
		if err := e.openSectorsTriple(); err != nil {
			return err
		}
	}

	var stored []byte
	compressed := false

	switch {
	case e.opts.EmptyBlockCompression && codec.IsEmptyBlock(chunk):
		stored = codec.EncodeEmptyBlock(chunk[0], len(chunk))
	case e.geometry.CompressionMethod == metadata.CompressionNone:
		// WithCompressionMethod(none) forces uncompressed storage even
		// for compressible data (design §4.1/§8): skip the DEFLATE
		// attempt entirely and always store raw+trailing-checksum.
		trailer := make([]byte, 4)
		binary.LittleEndian.PutUint32(trailer, codec.Adler32(chunk))
		stored = append(append([]byte{}, chunk...), trailer...)
	default:
		out, smaller := codec.DeflateCompress(chunk, e.opts.CompressionLevel)
		if smaller {
			stored = out
			compressed = true
		} else {
			trailer := make([]byte, 4)
			binary.LittleEndian.PutUint32(trailer, codec.Adler32(chunk))
			stored = append(append([]byte{}, chunk...), trailer...)
		}
	}

	payloadOffset := e.sectorsHeaderOffset + section.HeaderSize
	absOffset := payloadOffset + e.sectorsPayloadSize
	if _, err := e.writeSeg.WriteAt(stored, absOffset); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "write chunk bytes")
	}
	e.sectorsPayloadSize += int64(len(stored))

	e.md5.Write(chunk)
	e.sha1.Write(chunk)

	full := e.tableBuilder.Add(chunktable.Entry{
		SegmentIndex:  e.writeSegIndex,
		Offset:        absOffset,
		StoredLength:  int64(len(stored)),
		Compressed:    compressed,
		HasTrailingCS: !compressed,
	})
	overCeiling := e.geometry.SegmentSizeCeiling != 0 && absOffset+int64(len(stored)) >= e.geometry.SegmentSizeCeiling
	if full || overCeiling {
		if err := e.closeSectorsTriple(); err != nil {
			return err
		}
		return e.rollIfNeeded()
	}
	return nil
}

// WriteAt writes p at a caller-chosen offset (design §4.4/§4.7's
// write_at). A streaming acquisition only ever writes at the current
// tail, so offset must equal the cursor; writing somewhere already
// sealed is a random-access rewrite and is only meaningful with a
// delta chain backing it, which is not yet implemented (design §9 open
// question — see DESIGN.md's Pending section).
func (e *Engine) WriteAt(p []byte, offset int64) (int, error) {
	e.mu.RLock()
	cursor := e.cursor
	deltaMode := e.opts.DeltaMode
	e.mu.RUnlock()

	if offset == cursor {
		return e.Write(p)
	}
	if offset < cursor {
		if deltaMode {
			return 0, ewferr.New(ewferr.Unsupported, "delta-chain random-access rewrite is not yet implemented")
		}
		return 0, ewferr.New(ewferr.Argument, "write_at offset rewrites already-written media; enable delta mode")
	}
	return 0, ewferr.New(ewferr.Argument, "write_at offset leaves a gap past the current write cursor")
}

// WriteChunk accepts an already-prepared chunk (the "Chunked API" of
// design §4.4) and bypasses compression: the caller asserts it has
// already compressed (or decided not to compress) chunk_size bytes.
func (e *Engine) WriteChunk(prepared []byte, compressed bool, checksum uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateWriting && e.state != StateWriteResuming {
		return ewferr.New(ewferr.State, "write_chunk called outside Writing/WriteResuming state")
	}
	if len(e.assembly) != 0 {
		return ewferr.New(ewferr.State, "write_chunk cannot interleave with a partial streamed chunk")
	}

	if e.sectorsHeaderOffset == 0 {
		if err := e.openSectorsTriple(); err != nil {
			return err
		}
	}

	stored := prepared
	if !compressed {
		trailer := make([]byte, 4)
		binary.LittleEndian.PutUint32(trailer, checksum)
		stored = append(append([]byte{}, prepared...), trailer...)
	}

	payloadOffset := e.sectorsHeaderOffset + section.HeaderSize
	absOffset := payloadOffset + e.sectorsPayloadSize
	if _, err := e.writeSeg.WriteAt(stored, absOffset); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "write prepared chunk bytes")
	}
	e.sectorsPayloadSize += int64(len(stored))
	e.cursor += e.chunkSize()

	full := e.tableBuilder.Add(chunktable.Entry{
		SegmentIndex:  e.writeSegIndex,
		Offset:        absOffset,
		StoredLength:  int64(len(stored)),
		Compressed:    compressed,
		HasTrailingCS: !compressed,
	})
	overCeiling := e.geometry.SegmentSizeCeiling != 0 && absOffset+int64(len(stored)) >= e.geometry.SegmentSizeCeiling
	if full || overCeiling {
		if err := e.closeSectorsTriple(); err != nil {
			return err
		}
		return e.rollIfNeeded()
	}
	return nil
}

// DigestMD5 returns the running MD5 of every byte written so far.
func (e *Engine) DigestMD5() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.md5.Sum(nil)
}

// DigestSHA1 returns the running SHA1 of every byte written so far.
func (e *Engine) DigestSHA1() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sha1.Sum(nil)
}

// BeginFlush transitions the engine to Flushing, closing out any
// pending sectors/table/table2 triple so the orchestrator can append
// the terminal hash/digest/done sections (design §4.4 state machine).
func (e *Engine) BeginFlush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.assembly) > 0 {
		// A partial final chunk is flushed as-is; real acquisitions
		// always end on a chunk boundary, but signal_abort or an
		// odd-sized write stream should not lose the tail.
		if err := e.flushAssembledChunk(); err != nil {
			return err
		}
	}
	if err := e.closeSectorsTriple(); err != nil {
		return err
	}
	e.state = StateFlushing
	return nil
}
