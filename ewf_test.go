package ewf_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewflib/goewf"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

func TestCreateWriteCloseOpenRoundTrip(t *testing.T) {
	pool := segio.NewMemPool()

	handle, err := ewf.CreateWithIOPool(pool,
		ewf.WithSectorsPerChunk(4),
		ewf.WithBytesPerSector(512),
		ewf.WithDialect(ewf.DialectEnCase6),
	)
	require.NoError(t, err)

	chunkSize := int(handle.ChunkSize())
	require.Equal(t, 2048, chunkSize)

	src := rand.New(rand.NewSource(1))
	data := make([]byte, chunkSize*3)
	src.Read(data)

	handle.SetHeaderValue("ev", "Evidence001")
	handle.SetHeaderValue("ex", "examiner-smith")

	n, err := handle.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	require.NoError(t, handle.Close())

	reopened, err := ewf.OpenWithPool(pool, ewf.ModeRead)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(len(data)), reopened.MediaSize())
	assert.Equal(t, int64(chunkSize), reopened.ChunkSize())

	got := make([]byte, len(data))
	readN, err := reopened.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), readN)
	assert.Equal(t, data, got)

	ev, ok := reopened.HeaderValue("ev")
	assert.True(t, ok)
	assert.Equal(t, "Evidence001", ev)

	md5sum, ok := reopened.HashValue("md5")
	assert.True(t, ok)
	assert.Len(t, md5sum, 32)
}

func TestSegmentRolloverProducesMultipleSegments(t *testing.T) {
	pool := segio.NewMemPool()

	const segmentCeiling = 3000 // forces a roll roughly every two 2048-byte chunks

	handle, err := ewf.CreateWithIOPool(pool,
		ewf.WithSectorsPerChunk(4),
		ewf.WithBytesPerSector(512),
		ewf.WithSegmentSize(segmentCeiling),
	)
	require.NoError(t, err)

	chunkSize := int(handle.ChunkSize())
	src := rand.New(rand.NewSource(2))
	data := make([]byte, chunkSize*6) // incompressible: guarantees every chunk grows the segment
	src.Read(data)

	_, err = handle.Write(data)
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	assert.GreaterOrEqual(t, pool.Count(), 3, "a 6-chunk write over a 3000-byte ceiling should roll at least twice")

	reopened, err := ewf.OpenWithPool(pool, ewf.ModeRead)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(len(data)), reopened.MediaSize())

	got := make([]byte, len(data))
	_, err = reopened.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpenRejectsEmptyFilenameList(t *testing.T) {
	_, err := ewf.Open(nil, ewf.ModeRead)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	pool := segio.NewMemPool()

	handle, err := ewf.CreateWithIOPool(pool,
		ewf.WithSectorsPerChunk(4),
		ewf.WithBytesPerSector(512),
	)
	require.NoError(t, err)

	data := make([]byte, int(handle.ChunkSize()))
	_, err = handle.Write(data)
	require.NoError(t, err)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close(), "a second Close must be a no-op, not re-finalize the image")

	reopened, err := ewf.OpenWithPool(pool, ewf.ModeRead)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(len(data)), reopened.MediaSize(), "a duplicated finalize would have doubled the recorded media size")
}

// TestCorruptTablePayloadFallsBackToTable2 corrupts the "table"
// section's footer Adler-32 (not the 76-byte section header Adler-32,
// which would abort the whole open) and checks that the redundant
// "table2" copy is used instead, per design §4.3 scenario S5.
func TestCorruptTablePayloadFallsBackToTable2(t *testing.T) {
	pool := segio.NewMemPool()

	handle, err := ewf.CreateWithIOPool(pool,
		ewf.WithSectorsPerChunk(4),
		ewf.WithBytesPerSector(512),
	)
	require.NoError(t, err)

	data := make([]byte, int(handle.ChunkSize()))
	for i := range data {
		data[i] = byte(i)
	}
	_, err = handle.Write(data)
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	seg, err := pool.Open(0)
	require.NoError(t, err)

	reader, err := section.NewReader(seg)
	require.NoError(t, err)

	var tableHeader *section.Header
	for {
		hdr, herr := reader.Next()
		require.NoError(t, herr)
		if hdr == nil {
			break
		}
		if hdr.Kind == section.KindTable {
			tableHeader = hdr
			break
		}
	}
	require.NotNil(t, tableHeader, "expected a table section in the written segment")

	footerOffset := tableHeader.PayloadOffset() + tableHeader.PayloadLength() - 1
	corrupt := make([]byte, 1)
	_, err = seg.ReadAt(corrupt, footerOffset)
	require.NoError(t, err)
	corrupt[0] ^= 0xff
	_, err = seg.WriteAt(corrupt, footerOffset)
	require.NoError(t, err)

	reopened, err := ewf.OpenWithPool(pool, ewf.ModeRead)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Diagnostics().TableRecoveredCount)

	got := make([]byte, len(data))
	_, err = reopened.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
