package metadata

// Geometry holds the media geometry fields carried by the
// "volume"/"disk" section (spec §3): the values the media engine needs
// to translate a byte offset into a chunk index and back.
type Geometry struct {
	MediaType         uint8
	MediaFlags        uint8
	ChunkCount        uint32
	SectorsPerChunk   uint32
	BytesPerSector    uint32
	SectorCount       uint64
	ErrorGranularity  uint32
	CompressionMethod CompressionMethod

	// SegmentSizeCeiling is the configured per-segment size limit the
	// write planner rolls over at (design §4.4, scenario S3).
	SegmentSizeCeiling int64
}

// ChunkSize is the uncompressed size of one chunk in bytes.
func (g Geometry) ChunkSize() int64 {
	return int64(g.SectorsPerChunk) * int64(g.BytesPerSector)
}

// MediaSize is the total uncompressed media size in bytes.
func (g Geometry) MediaSize() int64 {
	return int64(g.SectorCount) * int64(g.BytesPerSector)
}

// CompressionMethod names the payload codec a dialect uses for its
// "sectors" chunks (design §8: DEFLATE everywhere, bzip2 added by Ex01).
type CompressionMethod uint8

const (
	CompressionDeflate CompressionMethod = iota
	CompressionBZip2
	CompressionNone
)

// Range is one entry of the error/session/acquiry tables: a contiguous
// span of logical sectors with dialect-specific metadata.
type Range struct {
	FirstSector uint64
	SectorCount uint64
}

// Diagnostics accumulates the non-fatal counters spec §7/§4.2 call for:
// structurally valid but unrecognized content encountered while
// parsing an image, surfaced to the caller instead of failing the
// open.
type Diagnostics struct {
	UnknownSectionCount        int
	UnknownHeaderType          int
	TableRecoveredCount        int // table section rejected: table2 used instead, or the range marked missing if table2 failed too
	CorruptChunkRecoveredCount int // tolerant read replaced a bad chunk with zeros
	UnknownLEFTypeCount        int
}
