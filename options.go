package ewf

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ewflib/goewf/internal/metadata"
)

// Default tuning values, mirrored after the teacher's
// MaxCacheSize and the chunk-table dialect ceilings in internal/chunktable.
const (
	DefaultCacheCapacity      = 1024
	DefaultCompressionLevel   = 6
	DefaultSegmentSize        = int64(1) << 31 // 2 GiB, the conventional EnCase segment cap
	DefaultHeaderCodepage     = "windows-1252"
	DefaultSectorsPerChunk    = 64
	DefaultBytesPerSector     = 512
)

// DiagnosticSink receives a copy of the handle's Diagnostics counters
// at the end of an open of an existing image and at the end of a
// write-mode close (design §7a's WithDiagnosticSink); it is not called
// per recovery event. Nil by default, meaning nobody is listening.
type DiagnosticSink func(metadata.Diagnostics)

// config holds every tunable the functional options below can set,
// following iamNilotpal-ignite's pkg/options shape: an unexported
// struct plus `With*` constructors returning `Option`.
type config struct {
	cacheCapacity         int
	tolerant              bool
	compressionLevel      int
	compressionMethod     metadata.CompressionMethod
	emptyBlockCompression bool
	deltaMode             bool
	segmentSize           int64
	sectorsPerChunk       uint32
	bytesPerSector        uint32
	headerCodepage        string
	maxSegmentTableEntries int
	dialect               Dialect
	logger                *zap.Logger
	diagnosticSink        DiagnosticSink
}

func defaultConfig() *config {
	return &config{
		cacheCapacity:         DefaultCacheCapacity,
		compressionLevel:      DefaultCompressionLevel,
		compressionMethod:     metadata.CompressionDeflate,
		emptyBlockCompression: true,
		segmentSize:           DefaultSegmentSize,
		sectorsPerChunk:       DefaultSectorsPerChunk,
		bytesPerSector:        DefaultBytesPerSector,
		headerCodepage:        DefaultHeaderCodepage,
		dialect:               DialectEnCase6,
		logger:                zap.NewNop(),
	}
}

// Option is a function that modifies a Handle's configuration before
// open()/create() runs.
type Option func(*config)

// WithCacheCapacity bounds the number of decompressed chunks the
// media engine keeps resident (design §4.4's chunk cache).
func WithCacheCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheCapacity = n
		}
	}
}

// WithTolerantReads makes a chunk Adler-32 mismatch a counted
// diagnostic instead of a hard CorruptChunk failure (design §4.4 read
// path step 2's "tolerant mode").
func WithTolerantReads() Option {
	return func(c *config) { c.tolerant = true }
}

// WithCompressionLevel sets the zlib level (0-9, or -1 for the
// library default) used when writing sectors chunks.
func WithCompressionLevel(level int) Option {
	return func(c *config) {
		if level >= -1 && level <= 9 {
			c.compressionLevel = level
		}
	}
}

// WithCompressionMethod selects the payload codec a new acquisition's
// "sectors" chunks are written with (design §7a/§8: DEFLATE by default,
// bzip2 read-only per the Ex01 dialect's own rule, or none).
func WithCompressionMethod(method metadata.CompressionMethod) Option {
	return func(c *config) { c.compressionMethod = method }
}

// WithEmptyBlockCompression toggles the run-length empty-block
// shortcut for all-constant-byte chunks (design §4.4 write path step
// 2); enabled by default, matching spec.md §8 scenario S1.
func WithEmptyBlockCompression(enabled bool) Option {
	return func(c *config) { c.emptyBlockCompression = enabled }
}

// WithDeltaMode sets delta mode. With it set, a write_at before the
// write cursor fails with Unsupported instead of Argument; no shadow
// delta segment chain is written or read, so random-access writes are
// rejected in either mode.
func WithDeltaMode() Option {
	return func(c *config) { c.deltaMode = true }
}

// WithSegmentSize sets the per-segment size limit the write path rolls
// over at (design §4.4 write path step 3, scenario S3).
func WithSegmentSize(bytes int64) Option {
	return func(c *config) {
		if bytes > 0 {
			c.segmentSize = bytes
		}
	}
}

// WithSectorsPerChunk sets the number of sectors grouped into one
// chunk for a new acquisition (design §3's chunk geometry).
func WithSectorsPerChunk(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.sectorsPerChunk = n
		}
	}
}

// WithBytesPerSector sets the sector size in bytes for a new
// acquisition; 512 matches essentially every real disk, but the field
// exists independently on the wire (design §3).
func WithBytesPerSector(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.bytesPerSector = n
		}
	}
}

// WithHeaderCodepage sets the codepage used to decode/encode the
// "header" section only — "header2"/"xheader" are always UTF-16
// (design §4.5).
func WithHeaderCodepage(codepage string) Option {
	return func(c *config) {
		codepage = strings.TrimSpace(codepage)
		if codepage != "" {
			c.headerCodepage = codepage
		}
	}
}

// WithMaxSegmentTableEntries overrides the table entry ceiling (design
// §4.3); zero keeps chunktable.MaxEntriesConservative (16,375), the
// default for every dialect.
func WithMaxSegmentTableEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSegmentTableEntries = n
		}
	}
}

// WithDialect picks the on-disk dialect a new acquisition is written
// as (design §4.2); it has no effect when opening an existing image,
// whose dialect is always detected, never configured.
func WithDialect(d Dialect) Option {
	return func(c *config) { c.dialect = d }
}

// WithLogger installs a zap logger the handle uses for structured
// diagnostic logging (open with the detected dialect, close, and a
// failed write-mode finalize). The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDiagnosticSink registers a callback invoked with a snapshot of
// the handle's Diagnostics counters when an open of an existing image
// or a write-mode close completes, letting a caller surface recovered
// corruption without polling Handle.Diagnostics() (design §7a).
func WithDiagnosticSink(sink DiagnosticSink) Option {
	return func(c *config) { c.diagnosticSink = sink }
}
