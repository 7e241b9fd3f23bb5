// Package codec implements the pure, stateless checksum and
// compression primitives described in design §4.1: Adler-32, DEFLATE
// compress/decompress, bzip2 decompress, and empty-block detection.
// Nothing here touches a segment file or a handle, so the
// media engine can hand independent chunks to a worker pool without
// coordinating through this package.
package codec

import (
	"bytes"
	"compress/bzip2"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/ewflib/goewf/ewferr"
)

// Adler32 computes the standard Adler-32 checksum (modulo 65521) of
// data — every section/table/chunk checksum in the format is computed
// fresh over its own bytes, never chained across sections, so this is
// a thin wrapper over hash/adler32 rather than a streaming API.
func Adler32(data []byte) uint32 {
	return adler32.Checksum(data)
}

// DeflateCompress returns the DEFLATE-compressed form of input at the
// given zlib level (0-9, or -1 for the library default) together with
// a flag reporting whether the compressed form is at least one byte
// smaller than input — the signal the write planner uses to decide
// whether a chunk is worth storing compressed at all.
func DeflateCompress(input []byte, level int) (output []byte, smaller bool) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		w = zlib.NewWriter(&buf)
	}
	w.Write(input)
	w.Close()
	return buf.Bytes(), buf.Len() < len(input)
}

// DeflateDecompress inflates input, failing with CorruptChunk on any
// zlib stream error rather than returning a truncated result.
func DeflateDecompress(input []byte, expectedLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, ewferr.Wrap(ewferr.CorruptChunk, err, "invalid zlib stream")
	}
	defer r.Close()

	var out bytes.Buffer
	if expectedLen > 0 {
		out.Grow(expectedLen)
	}
	if _, err := io.Copy(&out, r); err != nil {
		return nil, ewferr.Wrap(ewferr.CorruptChunk, err, "zlib decompression failed")
	}
	return out.Bytes(), nil
}

// BZIP2Decompress inflates a bzip2 stream, used by the Ex01 dialect.
func BZIP2Decompress(input []byte, expectedLen int) ([]byte, error) {
	r := bzip2.NewReader(bytes.NewReader(input))
	var out bytes.Buffer
	if expectedLen > 0 {
		out.Grow(expectedLen)
	}
	if _, err := io.Copy(&out, r); err != nil {
		return nil, ewferr.Wrap(ewferr.CorruptChunk, err, "bzip2 decompression failed")
	}
	return out.Bytes(), nil
}

// BZIP2Compress is unimplemented: see SPEC_FULL.md §8 — no bzip2
// encoder exists anywhere in the dependency pack or stdlib, and
// fabricating one is out of scope. Ex01 images remain fully readable;
// they simply cannot be re-encoded with bzip2 chunks by this library.
func BZIP2Compress(_ []byte) ([]byte, error) {
	return nil, ewferr.New(ewferr.Unsupported, "bzip2 compression is not available")
}

// IsEmptyBlock reports whether every byte in data equals the first
// byte, the condition the empty-block compression policy substitutes
// a 16-byte run-length record for (design §4.1, scenario S1).
func IsEmptyBlock(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	first := data[0]
	for _, b := range data[1:] {
		if b != first {
			return false
		}
	}
	return true
}

// EmptyBlockRecordSize is the fixed size of the compact run-length
// record used for empty-block chunks.
const EmptyBlockRecordSize = 16

// EncodeEmptyBlock builds the 16-byte record for an all-constant chunk
// of the given length.
func EncodeEmptyBlock(fillByte byte, length int) []byte {
	rec := make([]byte, EmptyBlockRecordSize)
	rec[0] = fillByte
	rec[1] = byte(length)
	rec[2] = byte(length >> 8)
	rec[3] = byte(length >> 16)
	rec[4] = byte(length >> 24)
	return rec
}

// DecodeEmptyBlock expands a 16-byte empty-block record back into its
// uncompressed form.
func DecodeEmptyBlock(rec []byte) ([]byte, error) {
	if len(rec) < EmptyBlockRecordSize {
		return nil, ewferr.New(ewferr.CorruptChunk, "truncated empty-block record")
	}
	length := int(rec[1]) | int(rec[2])<<8 | int(rec[3])<<16 | int(rec[4])<<24
	out := make([]byte, length)
	fill := rec[0]
	for i := range out {
		out[i] = fill
	}
	return out, nil
}
