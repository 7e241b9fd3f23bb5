package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ewflib/goewf/internal/metadata"
)

func TestGeometryChunkAndMediaSize(t *testing.T) {
	g := metadata.Geometry{
		SectorsPerChunk: 64,
		BytesPerSector:  512,
		SectorCount:     1000,
	}
	assert.Equal(t, int64(64*512), g.ChunkSize())
	assert.Equal(t, int64(1000*512), g.MediaSize())
}

func TestGeometryZeroValueSizesAreZero(t *testing.T) {
	var g metadata.Geometry
	assert.Equal(t, int64(0), g.ChunkSize())
	assert.Equal(t, int64(0), g.MediaSize())
}
