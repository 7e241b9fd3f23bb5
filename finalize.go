package ewf

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/section"
)

// finalizeWrite implements the write-mode half of close() (design
// §4.7/§4.4's state machine): flush any pending sectors/table/table2
// triple, append the volume/disk geometry section and the
// header/hash/digest sections (hash and digest both carrying the
// running MD5/SHA1), and terminate the image with a "done" section.
func (h *Handle) finalizeWrite() error {
	if err := h.engine.BeginFlush(); err != nil {
		return err
	}

	// Re-fetch the writer rather than using one captured at open time: a
	// segment roll (scenario S3) may have moved write state onto a
	// later segment since this handle was opened.
	writer := h.engine.Writer()
	var errs error

	volumeKind := section.KindVolume
	if h.dialect == DialectL01 {
		volumeKind = section.KindDisk
	}
	chunkCount := h.engine.Table().Len()
	sectorCount := uint64(0)
	if h.store.Geometry.BytesPerSector > 0 {
		sectorCount = uint64(h.engine.Tell()) / uint64(h.store.Geometry.BytesPerSector)
	}
	if volumePayload, err := h.encodeGeometryPayload(uint32(chunkCount), sectorCount); err != nil {
		errs = multierr.Append(errs, err)
	} else if err := writer.Append(volumeKind, volumePayload); err != nil {
		errs = multierr.Append(errs, err)
	}

	headerPayload, err := h.store.EncodeHeaderPayload(false, h.cfg.compressionLevel)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if err := writer.Append(section.KindHeader, headerPayload); err != nil {
		errs = multierr.Append(errs, err)
	}

	hashPayload := h.encodeHashPayload()
	if err := writer.Append(section.KindHash, hashPayload); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := writer.Append(section.KindDigest, hashPayload); err != nil {
		errs = multierr.Append(errs, err)
	}

	if err := writer.AppendTerminal(section.KindDone); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		h.logger.Error("finalize write failed", zap.Error(errs))
		return ewferr.Wrap(ewferr.IO, errs, "finalize write-mode close")
	}

	h.engine.MarkClosed()
	h.notifyDiagnostics()
	h.logger.Info("finalized EWF image",
		zap.String("md5", hexEncode(h.engine.DigestMD5())),
		zap.String("sha1", hexEncode(h.engine.DigestSHA1())),
	)
	return nil
}

func (h *Handle) encodeHashPayload() []byte {
	md5sum := h.engine.DigestMD5()
	sha1sum := h.engine.DigestSHA1()
	out := make([]byte, 0, len(md5sum)+len(sha1sum))
	out = append(out, md5sum...)
	out = append(out, sha1sum...)
	return out
}
