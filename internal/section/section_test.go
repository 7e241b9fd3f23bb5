package section_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

func newSegment(t *testing.T) segio.Segment {
	t.Helper()
	pool := segio.NewMemPool()
	idx, err := pool.AddSegment()
	require.NoError(t, err)
	seg, err := pool.Open(idx)
	require.NoError(t, err)
	return seg
}

func TestFileHeaderRoundTrip(t *testing.T) {
	seg := newSegment(t)
	require.NoError(t, section.WriteFileHeader(seg, section.EVFSignature, 1))

	fh, err := section.ReadFileHeader(seg)
	require.NoError(t, err)
	assert.Equal(t, section.EVFSignature, fh.Signature)
	assert.Equal(t, uint16(1), fh.SegmentNumber)
}

func TestReadFileHeaderRejectsUnknownSignature(t *testing.T) {
	seg := newSegment(t)
	seg.WriteAt(make([]byte, section.FileHeaderSize), 0)

	_, err := section.ReadFileHeader(seg)
	require.Error(t, err)

	var target *ewferr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ewferr.Unsupported, target.Kind())
}

func TestWriterAppendAndReaderNextRoundTrip(t *testing.T) {
	seg := newSegment(t)
	require.NoError(t, section.WriteFileHeader(seg, section.EVFSignature, 1))

	w := section.NewWriter(seg, section.FileHeaderSize)
	require.NoError(t, w.Append(section.KindHeader, []byte("payload-one")))
	require.NoError(t, w.Append(section.KindVolume, []byte("vol-payload")))
	require.NoError(t, w.AppendTerminal(section.KindDone))

	r, err := section.NewReader(seg)
	require.NoError(t, err)

	h1, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, h1)
	assert.Equal(t, section.KindHeader, h1.Kind)
	payload, err := r.Payload(h1)
	require.NoError(t, err)
	assert.Equal(t, "payload-one", string(payload))

	h2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, section.KindVolume, h2.Kind)

	h3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, section.KindDone, h3.Kind)

	h4, err := r.Next()
	require.NoError(t, err)
	assert.Nil(t, h4)
}

func TestReadHeaderRejectsChecksumMismatch(t *testing.T) {
	seg := newSegment(t)
	require.NoError(t, section.WriteHeader(seg, 0, section.KindHeader, section.HeaderSize, section.HeaderSize))

	corrupt := make([]byte, 1)
	seg.WriteAt(corrupt, 5) // flip a byte inside the checksummed span

	_, err := section.ReadHeader(seg, 0)
	require.Error(t, err)

	var target *ewferr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ewferr.BadSectionHeader, target.Kind())
}

func TestReaderDetectsUnknownSectionNonFatally(t *testing.T) {
	seg := newSegment(t)
	require.NoError(t, section.WriteFileHeader(seg, section.EVFSignature, 1))

	w := section.NewWriter(seg, section.FileHeaderSize)
	require.NoError(t, w.Append(section.Kind("zzzz"), []byte("x")))
	require.NoError(t, w.AppendTerminal(section.KindDone))

	r, err := section.NewReader(seg)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, r.UnknownCount)
}
