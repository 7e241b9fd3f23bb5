// Package ewf implements the Handle/Orchestrator described in design
// §4.7: the public surface for opening, reading, writing, and closing
// Expert Witness Compression Format forensic disk images, wiring
// together the section codec, chunk table, metadata store, LEF
// parser, and media engine.
package ewf

import (
	"go.uber.org/zap"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/lef"
	"github.com/ewflib/goewf/internal/media"
	"github.com/ewflib/goewf/internal/metadata"
	"github.com/ewflib/goewf/segio"
)

// Handle is an open EWF/LEF image: the orchestrator that design §4.7
// names, holding one metadata store, one chunk table, one media
// engine, and the segment pool backing them.
type Handle struct {
	pool   segio.Pool
	cfg    *config
	store  *metadata.Store
	engine *media.Engine
	table  *chunktable.Table
	logger *zap.Logger

	dialect     Dialect
	mode        Mode
	lefTree     *lef.Tree
	resumePoint *media.ResumePoint
	closed      bool
}

// Dialect returns the detected image variant.
func (h *Handle) Dialect() Dialect { return h.dialect }

// Diagnostics returns the non-fatal counters accumulated while opening
// and reading the image (design §4.2/§4.4's recovered-locally policy).
func (h *Handle) Diagnostics() metadata.Diagnostics { return h.store.Diagnostics }

// notifyDiagnostics forwards the current Diagnostics snapshot to the
// configured sink, if any (design §7a's WithDiagnosticSink).
func (h *Handle) notifyDiagnostics() {
	if h.cfg.diagnosticSink != nil {
		h.cfg.diagnosticSink(h.store.Diagnostics)
	}
}

// MediaSize returns the total uncompressed media size in bytes.
func (h *Handle) MediaSize() int64 { return h.store.Geometry.MediaSize() }

// ChunkSize returns the size of one chunk in bytes.
func (h *Handle) ChunkSize() int64 { return h.store.Geometry.ChunkSize() }

// BytesPerSector returns the sector size in bytes.
func (h *Handle) BytesPerSector() uint32 { return h.store.Geometry.BytesPerSector }

// SectorCount returns the number of sectors in the media.
func (h *Handle) SectorCount() uint64 { return h.store.Geometry.SectorCount }

// HeaderValue returns a header value by identifier (design §4.7's
// "Metadata accessors for ... header values").
func (h *Handle) HeaderValue(identifier string) (string, bool) {
	return h.store.GetHeaderValue(identifier)
}

// SetHeaderValue sets a header value for the next write/close.
func (h *Handle) SetHeaderValue(identifier, value string) {
	h.store.SetHeaderValue(identifier, value)
}

// HashValue returns a hash value (e.g. "md5", "sha1") by identifier.
func (h *Handle) HashValue(identifier string) (string, bool) {
	return h.store.GetHashValue(identifier)
}

// ErrorTable returns the error-granularity ranges recorded in the
// image's "error2" section.
func (h *Handle) ErrorTable() []metadata.Range { return h.store.ErrorTable }

// SessionTable returns the acquisition session ranges recorded in the
// image's "session" section.
func (h *Handle) SessionTable() []metadata.Range { return h.store.SessionTable }

// RootFileEntry returns the root of the parsed LEF file-entry tree, or
// nil for a non-LEF image (design §4.7's "LEF root entry").
func (h *Handle) RootFileEntry() *lef.FileEntry {
	if h.lefTree == nil {
		return nil
	}
	return h.lefTree.Root
}

// ReadAt reads len(p) bytes starting at offset (design §4.7's
// read_at).
func (h *Handle) ReadAt(p []byte, offset int64) (int, error) {
	if h.engine == nil {
		return 0, ewferr.New(ewferr.State, "handle has no media engine (write-only or closed)")
	}
	return h.engine.ReadAt(p, offset)
}

// Read reads from the current cursor and advances it (design §4.7's
// read).
func (h *Handle) Read(p []byte) (int, error) {
	if h.engine == nil {
		return 0, ewferr.New(ewferr.State, "handle has no media engine (write-only or closed)")
	}
	return h.engine.Read(p)
}

// Seek repositions the read/write cursor (design §4.7's seek).
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	if h.engine == nil {
		return 0, ewferr.New(ewferr.State, "handle has no media engine")
	}
	return h.engine.Seek(offset, whence)
}

// Tell returns the current cursor position.
func (h *Handle) Tell() int64 {
	if h.engine == nil {
		return 0
	}
	return h.engine.Tell()
}

// Write appends bytes in streaming-append mode (design §4.7's write).
func (h *Handle) Write(p []byte) (int, error) {
	if h.engine == nil {
		return 0, ewferr.New(ewferr.State, "handle has no media engine")
	}
	return h.engine.Write(p)
}

// WriteAt writes p at a caller-chosen offset (design §4.7's write_at).
func (h *Handle) WriteAt(p []byte, offset int64) (int, error) {
	if h.engine == nil {
		return 0, ewferr.New(ewferr.State, "handle has no media engine")
	}
	return h.engine.WriteAt(p, offset)
}

// WriteChunk accepts an already-prepared chunk, bypassing the codec
// (design §4.4's "Chunked API" / §4.7's write_chunk).
func (h *Handle) WriteChunk(prepared []byte, compressed bool, checksum uint32) error {
	if h.engine == nil {
		return ewferr.New(ewferr.State, "handle has no media engine")
	}
	return h.engine.WriteChunk(prepared, compressed, checksum)
}

// SignalAbort requests cooperative cancellation of any in-flight
// read/write (design §4.7's signal_abort).
func (h *Handle) SignalAbort() {
	if h.engine != nil {
		h.engine.SignalAbort()
	}
}

// Close finalizes the image (design §4.7's close). In write modes it
// emits the hash/digest/done sections and the final MD5/SHA1; in read
// modes it releases the pool. Idempotent in every mode (design §8
// invariant 6): a second call is a no-op rather than re-emitting the
// closing sections or re-closing the pool.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	if h.engine != nil && (h.mode == ModeWrite || h.mode == ModeWriteResume || h.mode == ModeReadWrite) && h.engine.State() != media.StateClosed {
		if err := h.finalizeWrite(); err != nil {
			return err
		}
	}
	err := h.pool.Close()
	h.closed = true
	h.logger.Info("closed EWF image")
	return err
}
