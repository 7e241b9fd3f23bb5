package ewf

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash/adler32"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/metadata"
)

// wireVolume is the fixed "volume"/"disk" section payload layout,
// grounded on the teacher's DiskSMART/DataSection structs (ewf.go:178,
// :206): a 1052-byte fixed record common to the EnCase/SMART family.
type wireVolume struct {
	MediaType                uint8
	_                        [3]byte
	ChunkCount               uint32
	ChunkSectors             uint32
	SectorBytes              uint32
	SectorsCount             uint64
	CHSCylinders             uint32
	CHSHeads                 uint32
	CHSSectors               uint32
	MediaFlag                uint8
	_                        [3]byte
	PALMVolumeStartSector    uint32
	_                        uint32
	SMARTLogsStartSector     uint32
	CompressionLevel         uint8
	_                        [3]byte
	SectorErrorGranularity   uint32
	_                        uint32
	SegmentFileSetIdentifier [16]byte
	_                        [963]byte
	Signature                [5]byte
	Checksum                 uint32
}

const wireVolumeChecksummedSize = 1048 // everything up to (not including) Checksum

func (h *Handle) decodeGeometry(payload []byte) error {
	if len(payload) < binary.Size(wireVolume{}) {
		// A short "data" section in the teacher's layout carries no
		// checksum trailer; treat it as geometry-only and skip the
		// Adler-32 check rather than failing the whole open.
		return h.decodeGeometryLoose(payload)
	}

	var wv wireVolume
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &wv); err != nil {
		return ewferr.Wrap(ewferr.BadSectionHeader, err, "decode volume/disk section")
	}

	if wv.Checksum != 0 {
		calculated := adler32.Checksum(payload[:wireVolumeChecksummedSize])
		if calculated != wv.Checksum {
			h.store.Diagnostics.UnknownSectionCount++ // recorded, not fatal (geometry is re-derivable from sectors)
		}
	}

	g := &h.store.Geometry
	g.MediaType = wv.MediaType
	g.MediaFlags = wv.MediaFlag
	g.ChunkCount = wv.ChunkCount
	g.SectorsPerChunk = wv.ChunkSectors
	g.BytesPerSector = wv.SectorBytes
	g.SectorCount = wv.SectorsCount
	g.ErrorGranularity = wv.SectorErrorGranularity
	return nil
}

// decodeGeometryLoose handles a payload too short for the full
// wireVolume record (some dialects carry a much smaller "data"
// section); it reads only the fields guaranteed present at the front
// of the struct.
func (h *Handle) decodeGeometryLoose(payload []byte) error {
	if len(payload) < 28 {
		return ewferr.New(ewferr.BadSectionHeader, "volume/disk section too short")
	}
	g := &h.store.Geometry
	g.MediaType = payload[0]
	g.ChunkCount = binary.LittleEndian.Uint32(payload[4:8])
	g.SectorsPerChunk = binary.LittleEndian.Uint32(payload[8:12])
	g.BytesPerSector = binary.LittleEndian.Uint32(payload[12:16])
	g.SectorCount = binary.LittleEndian.Uint64(payload[16:24])
	return nil
}

// encodeGeometryPayload builds the "volume"/"disk" section payload for
// a write-mode close, the inverse of decodeGeometry. ChunkCount and
// SectorCount are taken from the final write-path state rather than
// tracked incrementally, since a streaming acquisition only learns its
// own total size once it is done.
func (h *Handle) encodeGeometryPayload(chunkCount uint32, sectorCount uint64) ([]byte, error) {
	g := h.store.Geometry
	wv := wireVolume{
		MediaType:              g.MediaType,
		ChunkCount:             chunkCount,
		ChunkSectors:           g.SectorsPerChunk,
		SectorBytes:            g.BytesPerSector,
		SectorsCount:           sectorCount,
		MediaFlag:              g.MediaFlags,
		CompressionLevel:       uint8(h.cfg.compressionLevel),
		SectorErrorGranularity: g.ErrorGranularity,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &wv); err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "encode volume/disk section")
	}
	raw := buf.Bytes()
	checksum := adler32.Checksum(raw[:wireVolumeChecksummedSize])
	binary.LittleEndian.PutUint32(raw[len(raw)-4:], checksum)
	return raw, nil
}

func (h *Handle) decodeHeader(payload []byte, wide bool) error {
	text, err := h.store.DecodeHeaderPayload(payload, wide)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return h.store.ParseHeaderValuesText(text)
}

func (h *Handle) decodeHashSection(kind string, payload []byte) {
	// hash/xhash sections carry fixed-width MD5/SHA1 digests (MD5 for
	// "hash", MD5+SHA1 for "xhash" in later dialects); digest carries
	// the same pair under a different tag. Store them hex-encoded
	// under the conventional identifiers.
	if len(payload) >= 16 {
		h.store.SetHashValue("md5", hexEncode(payload[:16]))
	}
	if len(payload) >= 36 {
		h.store.SetHashValue("sha1", hexEncode(payload[16:36]))
	}
}

func (h *Handle) decodeRangeTable(kind string, payload []byte) {
	const rangeEntrySize = 8 // first-sector(4) + sector-count(4), little-endian
	count := len(payload) / rangeEntrySize
	ranges := make([]metadata.Range, 0, count)
	for i := 0; i < count; i++ {
		off := i * rangeEntrySize
		ranges = append(ranges, metadata.Range{
			FirstSector: uint64(binary.LittleEndian.Uint32(payload[off : off+4])),
			SectorCount: uint64(binary.LittleEndian.Uint32(payload[off+4 : off+8])),
		})
	}
	switch kind {
	case "session":
		h.store.SessionTable = ranges
	case "error2":
		h.store.ErrorTable = ranges
	}
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
