package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewflib/goewf/internal/codec"
	"github.com/ewflib/goewf/internal/metadata"
)

func TestParseHeaderValuesTextAppliesKnownCodes(t *testing.T) {
	text := "1\nmain\nc\tn\ta\n" +
		"CASE-1\tEV-1\tsample acquisition\n\n"

	s := metadata.NewStore()
	require.NoError(t, s.ParseHeaderValuesText(text))

	v, ok := s.GetHeaderValue("case_number")
	assert.True(t, ok)
	assert.Equal(t, "CASE-1", v)

	v, ok = s.GetHeaderValue("evidence_number")
	assert.True(t, ok)
	assert.Equal(t, "EV-1", v)
}

func TestParseHeaderValuesTextTracksUnknownTypeCode(t *testing.T) {
	text := "1\nmain\nc\tzz\n" +
		"CASE-1\tmystery\n\n"

	s := metadata.NewStore()
	require.NoError(t, s.ParseHeaderValuesText(text))
	assert.Equal(t, 1, s.Diagnostics.UnknownHeaderType)
}

func TestParseHeaderValuesTextRequiresMainBlock(t *testing.T) {
	s := metadata.NewStore()
	err := s.ParseHeaderValuesText("1\nsrce\nc\n1\n\n")
	require.Error(t, err)
}

func TestSetHeaderValueIfAbsentKeepsFirstNonEmpty(t *testing.T) {
	s := metadata.NewStore()
	s.SetHeaderValueIfAbsent("case_number", "FIRST")
	s.SetHeaderValueIfAbsent("case_number", "SECOND")

	v, ok := s.GetHeaderValue("case_number")
	assert.True(t, ok)
	assert.Equal(t, "FIRST", v)
}

func TestSetHeaderValueIfAbsentIgnoresEmptyValue(t *testing.T) {
	s := metadata.NewStore()
	s.SetHeaderValueIfAbsent("case_number", "")
	_, ok := s.GetHeaderValue("case_number")
	assert.False(t, ok)
}

func TestEncodeThenParseHeaderValuesTextRoundTrips(t *testing.T) {
	s := metadata.NewStore()
	s.SetHeaderValue("case_number", "CASE-42")
	s.SetHeaderValue("examiner_name", "J. Doe")

	text := s.EncodeHeaderValuesText()

	s2 := metadata.NewStore()
	require.NoError(t, s2.ParseHeaderValuesText(text))

	v, ok := s2.GetHeaderValue("case_number")
	require.True(t, ok)
	assert.Equal(t, "CASE-42", v)

	v, ok = s2.GetHeaderValue("examiner_name")
	require.True(t, ok)
	assert.Equal(t, "J. Doe", v)
}

func TestEncodeDecodeHeaderPayloadRoundTripsNarrow(t *testing.T) {
	s := metadata.NewStore()
	s.SetHeaderValue("case_number", "CASE-7")

	payload, err := s.EncodeHeaderPayload(false, 6)
	require.NoError(t, err)

	decoded, err := s.DecodeHeaderPayload(payload, false)
	require.NoError(t, err)
	assert.Contains(t, decoded, "CASE-7")
}

func TestEncodeDecodeHeaderPayloadRoundTripsWide(t *testing.T) {
	s := metadata.NewStore()
	s.SetHeaderValue("examiner_name", "Jane")

	payload, err := s.EncodeHeaderPayload(true, 6)
	require.NoError(t, err)

	decoded, err := s.DecodeHeaderPayload(payload, true)
	require.NoError(t, err)
	assert.Contains(t, decoded, "Jane")
}

func TestDecodeHeaderPayloadEmptyPayload(t *testing.T) {
	s := metadata.NewStore()
	empty, _ := codec.DeflateCompress(nil, 6)

	decoded, err := s.DecodeHeaderPayload(empty, false)
	require.NoError(t, err)
	assert.Equal(t, "", decoded)
}

func TestHashValuesRoundTrip(t *testing.T) {
	s := metadata.NewStore()
	s.SetHashValue("md5", "abc123")

	v, ok := s.GetHashValue("md5")
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
	assert.Contains(t, s.HashValueIdentifiers(), "md5")
}
