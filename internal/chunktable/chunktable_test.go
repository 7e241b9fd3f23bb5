package chunktable_test

import (
	"encoding/binary"
	"hash/adler32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
)

func adler32Of(data []byte) uint32 { return adler32.Checksum(data) }

func rawEntry(offset uint32, compressed bool) []byte {
	word := offset
	if compressed {
		word |= chunktable.CompressedFlag
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	return buf
}

// encodeFromOffsets builds a full table payload (header + entries +
// footer) from already-packed entry words, bypassing EncodeRawEntries
// so decode tests can exercise the wire layout directly.
func encodeFromOffsets(entryWords ...[]byte) []byte {
	var entryBytes []byte
	for _, w := range entryWords {
		entryBytes = append(entryBytes, w...)
	}
	entries := make([]chunktable.Entry, len(entryWords))
	raw := chunktable.EncodeRawEntries(entries, 0)
	copy(raw[chunktable.TableHeaderSize:], entryBytes)
	binary.LittleEndian.PutUint32(raw[len(raw)-chunktable.TableFooterSize:], adler32Of(entryBytes))
	return raw
}

func TestDecodeRawEntriesDerivesLengthsFromGaps(t *testing.T) {
	raw := encodeFromOffsets(rawEntry(0, true), rawEntry(100, false), rawEntry(250, true))

	entries, err := chunktable.DecodeRawEntries(2, 1000, 400, raw)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1000), entries[0].Offset)
	assert.Equal(t, int64(100), entries[0].StoredLength)
	assert.True(t, entries[0].Compressed)

	assert.Equal(t, int64(1100), entries[1].Offset)
	assert.Equal(t, int64(150), entries[1].StoredLength)
	assert.False(t, entries[1].Compressed)
	assert.True(t, entries[1].HasTrailingCS)

	assert.Equal(t, int64(1250), entries[2].Offset)
	assert.Equal(t, int64(150), entries[2].StoredLength)
	assert.Equal(t, 2, entries[2].SegmentIndex)
}

func TestDecodeRawEntriesRejectsMisalignedPayload(t *testing.T) {
	_, err := chunktable.DecodeRawEntries(0, 0, 0, []byte{1, 2, 3})
	require.Error(t, err)

	var target *ewferr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ewferr.BadSectionHeader, target.Kind())
}

func TestDecodeRawEntriesRejectsNegativeDerivedLength(t *testing.T) {
	raw := encodeFromOffsets(rawEntry(500, false), rawEntry(100, false))

	_, err := chunktable.DecodeRawEntries(0, 0, 1000, raw)
	require.Error(t, err)
}

func TestDecodeRawEntriesRejectsFooterChecksumMismatch(t *testing.T) {
	raw := encodeFromOffsets(rawEntry(0, false), rawEntry(100, false))
	raw[len(raw)-1] ^= 0xff // corrupt the footer Adler-32

	_, err := chunktable.DecodeRawEntries(0, 0, 200, raw)
	require.Error(t, err)

	var target *ewferr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ewferr.BadSectionHeader, target.Kind())
}

func TestDecodeRawEntriesRejectsHeaderChecksumMismatch(t *testing.T) {
	raw := encodeFromOffsets(rawEntry(0, false), rawEntry(100, false))
	raw[0] ^= 0xff // corrupt the declared entry count without fixing the header checksum

	_, err := chunktable.DecodeRawEntries(0, 0, 200, raw)
	require.Error(t, err)
}

func TestEncodeRawEntriesRoundTrip(t *testing.T) {
	entries := []chunktable.Entry{
		{Offset: 1000, Compressed: true},
		{Offset: 1100, Compressed: false},
	}
	raw := chunktable.EncodeRawEntries(entries, 1000)
	assert.Len(t, raw, chunktable.TableHeaderSize+len(entries)*4+chunktable.TableFooterSize)

	decoded, err := chunktable.DecodeRawEntries(0, 1000, 200, raw)
	require.NoError(t, err)
	assert.Equal(t, entries[0].Offset, decoded[0].Offset)
	assert.Equal(t, entries[0].Compressed, decoded[0].Compressed)
	assert.Equal(t, entries[1].Offset, decoded[1].Offset)
}

func TestTableLookupOutOfRange(t *testing.T) {
	table := chunktable.New()
	_, err := table.Lookup(0)
	require.Error(t, err)

	var target *ewferr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ewferr.MissingChunk, target.Kind())
}

func TestTableMarkRangeMissing(t *testing.T) {
	table := chunktable.New()
	table.AppendSegmentEntries([]chunktable.Entry{{}, {}, {}, {}})

	table.MarkRangeMissing(1, 2)

	_, err := table.Lookup(0)
	require.NoError(t, err)

	_, err = table.Lookup(1)
	require.Error(t, err)
	_, err = table.Lookup(2)
	require.Error(t, err)

	_, err = table.Lookup(3)
	require.NoError(t, err)
}

func TestBuilderFillsAtMaxEntries(t *testing.T) {
	b := chunktable.NewBuilder(2)

	full := b.Add(chunktable.Entry{Offset: 0})
	assert.False(t, full)
	assert.Equal(t, 1, b.Len())

	full = b.Add(chunktable.Entry{Offset: 100})
	assert.True(t, full)

	flushed := b.Flush()
	assert.Len(t, flushed, 2)
	assert.Equal(t, 0, b.Len())
}

func TestNewBuilderDefaultsToConservativeMax(t *testing.T) {
	b := chunktable.NewBuilder(0)
	assert.Equal(t, chunktable.MaxEntriesConservative, b.MaxEntries)
}
