package media_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/media"
	"github.com/ewflib/goewf/internal/metadata"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

func newWritableSegment(t *testing.T) (segio.Pool, segio.Segment, int) {
	t.Helper()
	pool := segio.NewMemPool()
	idx, err := pool.AddSegment()
	require.NoError(t, err)
	seg, err := pool.Open(idx)
	require.NoError(t, err)
	require.NoError(t, section.WriteFileHeader(seg, section.EVFSignature, 1))
	return pool, seg, idx
}

func TestWriteEngineRoundTripsThroughReadEngine(t *testing.T) {
	pool, seg, idx := newWritableSegment(t)

	geometry := &metadata.Geometry{
		SectorsPerChunk: 4,
		BytesPerSector:  512,
		SectorCount:     8, // two chunks of 2048 bytes
	}
	diag := &metadata.Diagnostics{}

	engine := media.NewWriteEngine(pool, geometry, diag, media.Options{
		CompressionLevel:      6,
		EmptyBlockCompression: true,
		MaxEntriesPerTable:    0,
	})

	writer := section.NewWriter(seg, section.FileHeaderSize)
	engine.BeginSegment(seg, writer, idx)

	chunkSize := int(geometry.ChunkSize())
	first := make([]byte, chunkSize)
	for i := range first {
		first[i] = byte(i)
	}
	second := make([]byte, chunkSize) // all zero: empty-block path

	n, err := engine.Write(first)
	require.NoError(t, err)
	assert.Equal(t, chunkSize, n)

	n, err = engine.Write(second)
	require.NoError(t, err)
	assert.Equal(t, chunkSize, n)

	require.NoError(t, engine.BeginFlush())

	readEngine := media.NewReadEngine(pool, geometry, engine.Table(), diag, media.Options{})

	buf := make([]byte, chunkSize*2)
	readN, err := readEngine.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, chunkSize*2, readN)
	assert.Equal(t, first, buf[:chunkSize])
	assert.Equal(t, second, buf[chunkSize:])
}

func TestWriteChunkRejectsInterleavingWithPartialStream(t *testing.T) {
	pool, seg, idx := newWritableSegment(t)
	geometry := &metadata.Geometry{SectorsPerChunk: 4, BytesPerSector: 512, SectorCount: 4}
	diag := &metadata.Diagnostics{}

	engine := media.NewWriteEngine(pool, geometry, diag, media.Options{CompressionLevel: 6})
	writer := section.NewWriter(seg, section.FileHeaderSize)
	engine.BeginSegment(seg, writer, idx)

	_, err := engine.Write(make([]byte, 1)) // partial chunk
	require.NoError(t, err)

	err = engine.WriteChunk(make([]byte, int(geometry.ChunkSize())), false, 0)
	require.Error(t, err)
}

func TestReadAtClampsToMediaSize(t *testing.T) {
	pool := segio.NewMemPool()
	geometry := &metadata.Geometry{SectorsPerChunk: 4, BytesPerSector: 512, SectorCount: 4}
	diag := &metadata.Diagnostics{}
	table := chunktable.New()

	engine := media.NewReadEngine(pool, geometry, table, diag, media.Options{})

	buf := make([]byte, 10)
	_, err := engine.ReadAt(buf, geometry.MediaSize())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSeekArithmeticDoesNotTouchPool(t *testing.T) {
	pool := segio.NewMemPool()
	geometry := &metadata.Geometry{SectorsPerChunk: 4, BytesPerSector: 512, SectorCount: 4}
	diag := &metadata.Diagnostics{}
	table := chunktable.New()

	engine := media.NewReadEngine(pool, geometry, table, diag, media.Options{})

	pos, err := engine.Seek(100, media.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos)

	pos, err = engine.Seek(1_000_000, media.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, geometry.MediaSize(), pos) // clamped for read mode

	_, err = engine.Seek(-1, media.SeekStart)
	assert.Error(t, err)
}

func TestWriteAtEqualToCursorStreamsNormally(t *testing.T) {
	pool, seg, idx := newWritableSegment(t)
	geometry := &metadata.Geometry{SectorsPerChunk: 4, BytesPerSector: 512, SectorCount: 4}
	diag := &metadata.Diagnostics{}

	engine := media.NewWriteEngine(pool, geometry, diag, media.Options{CompressionLevel: 6})
	writer := section.NewWriter(seg, section.FileHeaderSize)
	engine.BeginSegment(seg, writer, idx)

	n, err := engine.WriteAt(make([]byte, int(geometry.ChunkSize())), 0)
	require.NoError(t, err)
	assert.Equal(t, int(geometry.ChunkSize()), n)
}

func TestWriteAtRandomAccessRejectedWithoutDeltaMode(t *testing.T) {
	pool, seg, idx := newWritableSegment(t)
	geometry := &metadata.Geometry{SectorsPerChunk: 4, BytesPerSector: 512, SectorCount: 8}
	diag := &metadata.Diagnostics{}

	engine := media.NewWriteEngine(pool, geometry, diag, media.Options{CompressionLevel: 6})
	writer := section.NewWriter(seg, section.FileHeaderSize)
	engine.BeginSegment(seg, writer, idx)

	chunkSize := int(geometry.ChunkSize())
	_, err := engine.Write(make([]byte, chunkSize))
	require.NoError(t, err)

	_, err = engine.WriteAt(make([]byte, 10), 0)
	assert.Error(t, err)
}
