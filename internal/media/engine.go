// Package media implements the Media Engine described in design §4.4:
// the read/write path over chunked, compressed, checksummed sectors,
// the chunk cache, and the handle's lifecycle state machine (design
// §5's single read-write lock around the chunk cache and chunk table).
package media

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/codec"
	"github.com/ewflib/goewf/internal/metadata"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

// Options configures an Engine at construction (SPEC_FULL.md §7a's
// functional-options surface plumbs these through from ewf.Option).
type Options struct {
	CacheCapacity         int
	Tolerant              bool // CorruptChunk becomes a counted diagnostic instead of a hard failure
	CompressionLevel      int
	EmptyBlockCompression bool
	DeltaMode             bool
	MaxEntriesPerTable    int

	// Signature is the 8-byte segment file magic a write-mode engine
	// stamps on every segment it rolls over to, matching whatever the
	// orchestrator wrote for the first one (design §6: EVF vs LVF).
	Signature [8]byte
}

// Engine owns the chunk cache, chunk table, and pool handle for one
// open image, and implements the read/write/seek operations design
// §4.4 assigns it.
type Engine struct {
	mu sync.RWMutex

	pool     segio.Pool
	geometry *metadata.Geometry
	table    *chunktable.Table
	cache    *chunkCache
	diag     *metadata.Diagnostics

	opts Options

	state  State
	cursor int64

	aborted atomic.Bool

	// write-path state
	writer              *section.Writer
	writeSegIndex       int
	writeSeg            segio.Segment
	tableBuilder        *chunktable.Builder
	sectorsHeaderOffset int64
	sectorsPayloadSize  int64
	assembly            []byte

	md5  hash.Hash
	sha1 hash.Hash
}

// NewReadEngine creates an Engine over an already-populated chunk
// table, ready to serve reads (design §4.7's "open" for read/read_write modes).
func NewReadEngine(pool segio.Pool, geometry *metadata.Geometry, table *chunktable.Table, diag *metadata.Diagnostics, opts Options) *Engine {
	return &Engine{
		pool:     pool,
		geometry: geometry,
		table:    table,
		diag:     diag,
		cache:    newChunkCache(opts.CacheCapacity),
		opts:     opts,
		state:    StateReadOnly,
	}
}

// NewWriteEngine creates an Engine in Writing state, ready to accept a
// fresh acquisition via Write/WriteChunk.
func NewWriteEngine(pool segio.Pool, geometry *metadata.Geometry, diag *metadata.Diagnostics, opts Options) *Engine {
	return &Engine{
		pool:         pool,
		geometry:     geometry,
		table:        chunktable.New(),
		diag:         diag,
		cache:        newChunkCache(opts.CacheCapacity),
		opts:         opts,
		state:        StateWriting,
		tableBuilder: chunktable.NewBuilder(opts.MaxEntriesPerTable),
		md5:          md5.New(),
		sha1:         sha1.New(),
	}
}

// NewResumeEngine creates an Engine continuing a write acquisition
// from an already-populated chunk table and cursor position (design
// §4.4's "Write-resume": the orchestrator has already truncated the
// segment's partial tail and repositioned its section writer; this
// just seeds the engine's in-memory state to match).
func NewResumeEngine(pool segio.Pool, geometry *metadata.Geometry, table *chunktable.Table, diag *metadata.Diagnostics, opts Options, cursor int64) *Engine {
	return &Engine{
		pool:         pool,
		geometry:     geometry,
		table:        table,
		diag:         diag,
		cache:        newChunkCache(opts.CacheCapacity),
		opts:         opts,
		state:        StateWriteResuming,
		cursor:       cursor,
		tableBuilder: chunktable.NewBuilder(opts.MaxEntriesPerTable),
		md5:          md5.New(),
		sha1:         sha1.New(),
	}
}

// FeedDigest mixes already-written bytes into the running MD5/SHA1.
// Write-resume uses this to replay the previously-written media
// through the digest before accepting any new writes, since the
// running hash itself doesn't survive a process restart.
func (e *Engine) FeedDigest(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.md5.Write(p)
	e.sha1.Write(p)
}

// MarkClosed completes the Flushing → Closed transition of design
// §4.4's state machine, once finalizeWrite has appended every closing
// section successfully. Close() uses State() == StateClosed to make
// itself idempotent.
func (e *Engine) MarkClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateClosed
}

// Table exposes the engine's chunk table, used by tests and by the
// orchestrator's write-mode close to count the chunks written.
func (e *Engine) Table() *chunktable.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// Writer exposes the section writer for whichever segment is currently
// open for writes. The orchestrator must re-fetch this after BeginFlush
// rather than caching the writer from open time, since a segment roll
// (design §4.4 scenario S3) may have since moved write state onto a
// later segment.
func (e *Engine) Writer() *section.Writer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.writer
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SignalAbort requests cooperative cancellation; checked between
// chunks by Read/Write (design §5's cancellation model).
func (e *Engine) SignalAbort() { e.aborted.Store(true) }

// Aborted reports whether SignalAbort has been called.
func (e *Engine) Aborted() bool { return e.aborted.Load() }

// Tell returns the current read/write cursor.
func (e *Engine) Tell() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// Whence values mirror io.Seeker's.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Seek is pure arithmetic over the cursor; it never touches the pool
// (design §4.4). Offsets beyond media_size are clamped in read mode.
// In write mode they are rejected when media_size is non-zero; while
// it is zero (a streaming acquisition whose size is not yet recorded)
// no upper bound is applied.
func (e *Engine) Seek(offset int64, whence int) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = e.cursor + offset
	case SeekEnd:
		target = e.geometry.MediaSize() + offset
	default:
		return 0, ewferr.New(ewferr.Argument, "invalid seek whence")
	}
	if target < 0 {
		return 0, ewferr.New(ewferr.Argument, "seek before start of media")
	}

	if e.state == StateWriting || e.state == StateWriteResuming {
		if target > e.geometry.MediaSize() && e.geometry.MediaSize() != 0 {
			return 0, ewferr.New(ewferr.Argument, "seek beyond media size in write mode")
		}
	} else if target > e.geometry.MediaSize() {
		target = e.geometry.MediaSize()
	}

	e.cursor = target
	return e.cursor, nil
}

// chunkSize is a small convenience wrapper; geometry is immutable for
// the life of the engine once open() completes dialect detection.
func (e *Engine) chunkSize() int64 { return e.geometry.ChunkSize() }

// readChunk resolves one logical chunk to its decompressed bytes,
// consulting the cache first (design §4.4 read path step 2).
func (e *Engine) readChunk(chunkIndex int) ([]byte, error) {
	if data, ok := e.cache.get(chunkIndex); ok {
		return data, nil
	}

	entry, err := e.table.Lookup(chunkIndex)
	if err != nil {
		return nil, err
	}

	seg, err := e.pool.Open(entry.SegmentIndex)
	if err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "open segment for chunk read").
			WithDetail("chunk_index", chunkIndex)
	}

	raw := make([]byte, entry.StoredLength)
	if _, err := seg.ReadAt(raw, entry.Offset); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "read chunk bytes").
			WithDetail("chunk_index", chunkIndex)
	}

	data, err := e.decodeChunk(raw, entry)
	if err != nil {
		var ee *ewferr.Error
		if e.opts.Tolerant && errors.As(err, &ee) && ee.Kind() == ewferr.CorruptChunk {
			e.diag.CorruptChunkRecoveredCount++
			data = make([]byte, e.chunkSize())
		} else {
			return nil, err
		}
	}

	e.cache.put(chunkIndex, data)
	return data, nil
}

func (e *Engine) decodeChunk(raw []byte, entry chunktable.Entry) ([]byte, error) {
	chunkSize := int(e.chunkSize())

	if entry.Compressed {
		switch e.geometry.CompressionMethod {
		case metadata.CompressionBZip2:
			return codec.BZIP2Decompress(raw, chunkSize)
		default:
			return codec.DeflateDecompress(raw, chunkSize)
		}
	}

	if len(raw) == codec.EmptyBlockRecordSize {
		return codec.DecodeEmptyBlock(raw)
	}

	if !entry.HasTrailingCS || len(raw) < chunkSize+4 {
		return raw, nil
	}

	data := raw[:chunkSize]
	trailer := binary.LittleEndian.Uint32(raw[chunkSize : chunkSize+4])
	if codec.Adler32(data) != trailer {
		return nil, ewferr.New(ewferr.CorruptChunk, "uncompressed chunk Adler-32 mismatch")
	}
	return data, nil
}

// ReadAt implements io.ReaderAt semantics over the logical media,
// clamped to media_size (design §4.4 step 3: "short reads are
// returned only at end-of-media").
func (e *Engine) ReadAt(p []byte, offset int64) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	mediaSize := e.geometry.MediaSize()
	if offset >= mediaSize {
		return 0, io.EOF
	}

	chunkSize := e.chunkSize()
	n := 0
	for n < len(p) {
		if e.aborted.Load() {
			return n, ewferr.New(ewferr.Aborted, "read aborted")
		}
		pos := offset + int64(n)
		if pos >= mediaSize {
			break
		}
		chunkIndex := int(pos / chunkSize)
		inChunkOffset := pos % chunkSize

		data, err := e.readChunk(chunkIndex)
		if err != nil {
			return n, err
		}

		avail := int64(len(data)) - inChunkOffset
		remaining := int64(len(p) - n)
		toEnd := mediaSize - pos
		toCopy := min64(avail, min64(remaining, toEnd))
		if toCopy <= 0 {
			break
		}
		copy(p[n:n+int(toCopy)], data[inChunkOffset:inChunkOffset+toCopy])
		n += int(toCopy)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read reads from the current cursor and advances it.
func (e *Engine) Read(p []byte) (int, error) {
	e.mu.RLock()
	cursor := e.cursor
	e.mu.RUnlock()

	n, err := e.ReadAt(p, cursor)

	e.mu.Lock()
	e.cursor += int64(n)
	e.mu.Unlock()
	return n, err
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
