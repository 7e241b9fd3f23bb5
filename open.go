package ewf

import (
	"io"

	"go.uber.org/zap"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/chunktable"
	"github.com/ewflib/goewf/internal/lef"
	"github.com/ewflib/goewf/internal/media"
	"github.com/ewflib/goewf/internal/metadata"
	"github.com/ewflib/goewf/internal/section"
	"github.com/ewflib/goewf/segio"
)

// Mode selects how an image is opened (design §4.7).
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeWriteResume
	ModeReadWrite
)

// Open opens an existing image from a sorted list of segment filenames
// (design §4.7's open(segment_filenames[], mode)).
func Open(filenames []string, mode Mode, opts ...Option) (*Handle, error) {
	var pool segio.Pool
	var err error
	if mode == ModeWriteResume || mode == ModeReadWrite {
		pool, err = segio.NewResumableFilePool(filenames)
	} else {
		pool, err = segio.NewFilePool(filenames)
	}
	if err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "open segment file pool")
	}
	return OpenWithPool(pool, mode, opts...)
}

// Create starts a brand-new acquisition under base (design §4.7/§7a's
// Create, configured entirely through Options since there's nothing on
// disk yet to detect a dialect from) using the conventional segment
// extension sequence for the configured (or default) dialect.
func Create(base string, opts ...Option) (*Handle, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	pool := segio.NewWritableFilePool(base, cfg.dialect.segmentExtPrefix())
	return OpenWithPool(pool, ModeWrite, opts...)
}

// CreateWithIOPool starts a brand-new acquisition against a
// caller-supplied, already-writable Pool (design §4.7's
// CreateWithIOPool), used by tests with segio.MemPool.
func CreateWithIOPool(pool segio.Pool, opts ...Option) (*Handle, error) {
	return OpenWithPool(pool, ModeWrite, opts...)
}

// OpenWithPool opens an image against a caller-supplied Pool (design
// §4.7's open_with_io_pool), used by tests with segio.MemPool and by
// callers with their own fd-bounded pool implementation.
func OpenWithPool(pool segio.Pool, mode Mode, opts ...Option) (*Handle, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	h := &Handle{
		pool:   pool,
		cfg:    cfg,
		store:  metadata.NewStore(),
		logger: cfg.logger,
		mode:   mode,
	}
	h.store.HeaderCodepage = cfg.headerCodepage

	if mode == ModeWrite {
		return h.openForWrite()
	}
	return h.openForRead(mode)
}

func (h *Handle) openForRead(mode Mode) (*Handle, error) {
	if h.pool.Count() == 0 {
		return nil, ewferr.New(ewferr.Argument, "no segment files supplied")
	}

	table := chunktable.New()
	det := &detectionState{}
	// A write-resume (or read-write) open expects exactly the kind of
	// partial trailing section a prior process left mid-write; don't
	// fail the whole open on it, just stop parsing and hand the rest to
	// ScanForResume.
	tolerant := mode == ModeWriteResume || mode == ModeReadWrite

	for segIndex := 0; segIndex < h.pool.Count(); segIndex++ {
		seg, err := h.pool.Open(segIndex)
		if err != nil {
			return nil, ewferr.Wrap(ewferr.IO, err, "open segment").WithDetail("segment_index", segIndex)
		}

		fh, err := section.ReadFileHeader(seg)
		if err != nil {
			return nil, err
		}
		if fh.Signature == section.LVFSignature {
			det.sawLVFSignature = true
		}

		reader, err := section.NewReader(seg)
		if err != nil {
			return nil, err
		}

		var pendingSectorsOffset, pendingSectorsLen int64 = -1, 0
		var pendingTableRaw []byte
		var pendingTable2Raw []byte

		for {
			hdr, err := reader.Next()
			if err != nil {
				if tolerant {
					break
				}
				return nil, err
			}
			if hdr == nil {
				break
			}

			switch hdr.Kind {
			case section.KindVolume, section.KindDisk:
				det.sawVolume = det.sawVolume || hdr.Kind == section.KindVolume
				det.sawDisk = det.sawDisk || hdr.Kind == section.KindDisk
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				if len(payload) > 0 {
					det.volumeVersion = payload[0]
				}
				if err := h.decodeGeometry(payload); err != nil {
					return nil, err
				}
			case section.KindData:
				det.sawData = true
			case section.KindHeader:
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				if err := h.decodeHeader(payload, false); err != nil {
					return nil, err
				}
			case section.KindHeader2:
				det.sawHeader2 = true
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				if err := h.decodeHeader(payload, true); err != nil {
					return nil, err
				}
			case section.KindXHeader:
				det.sawXHeader = true
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				if err := h.decodeHeader(payload, true); err != nil {
					return nil, err
				}
			case section.KindSectors:
				pendingSectorsOffset = hdr.PayloadOffset()
				pendingSectorsLen = hdr.PayloadLength()
			case section.KindTable:
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				pendingTableRaw = payload
			case section.KindTable2:
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				pendingTable2Raw = payload
				if err := h.applyTableEntries(table, segIndex, pendingSectorsOffset, pendingSectorsLen, pendingTableRaw, pendingTable2Raw); err != nil {
					return nil, err
				}
				pendingTableRaw, pendingTable2Raw = nil, nil
				pendingSectorsOffset = -1
			case section.KindLtree:
				det.sawLtree = true
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				if err := h.decodeLtree(payload); err != nil {
					return nil, err
				}
			case section.KindHash, section.KindXHash, section.KindDigest:
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				h.decodeHashSection(string(hdr.Kind), payload)
			case section.KindSession, section.KindError2:
				payload, err := reader.Payload(hdr)
				if err != nil {
					return nil, err
				}
				h.decodeRangeTable(string(hdr.Kind), payload)
			}
		}

		// A table section with no following table2 (e.g. a dialect
		// that skips the redundant copy) still has to reach the chunk
		// table; flush it standalone.
		if pendingTableRaw != nil {
			if err := h.applyTableEntries(table, segIndex, pendingSectorsOffset, pendingSectorsLen, pendingTableRaw, nil); err != nil {
				return nil, err
			}
		}

		h.store.Diagnostics.UnknownSectionCount += reader.UnknownCount
	}

	h.dialect = det.resolve()
	h.table = table

	if mode == ModeWriteResume || mode == ModeReadWrite {
		if err := h.resumeWrite(table); err != nil {
			return nil, err
		}
	} else {
		h.engine = media.NewReadEngine(h.pool, &h.store.Geometry, table, &h.store.Diagnostics, media.Options{
			CacheCapacity:    h.cfg.cacheCapacity,
			Tolerant:         h.cfg.tolerant,
			CompressionLevel: h.cfg.compressionLevel,
			DeltaMode:        h.cfg.deltaMode,
		})
	}

	h.notifyDiagnostics()

	h.logger.Info("opened EWF image",
		zap.String("dialect", h.dialect.String()),
		zap.Int("segments", h.pool.Count()),
		zap.Int("chunks", table.Len()),
		zap.Int("unknown_sections", h.store.Diagnostics.UnknownSectionCount),
	)
	return h, nil
}

func (h *Handle) openForWrite() (*Handle, error) {
	h.dialect = h.cfg.dialect
	h.store.Geometry.SegmentSizeCeiling = h.cfg.segmentSize
	h.store.Geometry.SectorsPerChunk = h.cfg.sectorsPerChunk
	h.store.Geometry.BytesPerSector = h.cfg.bytesPerSector
	h.store.Geometry.CompressionMethod = h.cfg.compressionMethod
	signature := section.EVFSignature
	if h.cfg.dialect == DialectL01 {
		signature = section.LVFSignature
	}
	h.engine = media.NewWriteEngine(h.pool, &h.store.Geometry, &h.store.Diagnostics, media.Options{
		CacheCapacity:         h.cfg.cacheCapacity,
		CompressionLevel:      h.cfg.compressionLevel,
		DeltaMode:             h.cfg.deltaMode,
		MaxEntriesPerTable:    h.cfg.maxSegmentTableEntries,
		EmptyBlockCompression: h.cfg.emptyBlockCompression,
		Signature:             signature,
	})
	h.table = chunktable.New()

	segIndex, err := h.pool.AddSegment()
	if err != nil {
		return nil, ewferr.Wrap(ewferr.IO, err, "allocate first segment")
	}
	seg, err := h.pool.Open(segIndex)
	if err != nil {
		return nil, err
	}
	if err := section.WriteFileHeader(seg, signature, uint16(segIndex+1)); err != nil {
		return nil, err
	}
	writer := section.NewWriter(seg, section.FileHeaderSize)
	h.engine.BeginSegment(seg, writer, segIndex)

	h.logger.Info("opened EWF image for write", zap.Int("segment_index", segIndex))
	return h, nil
}

// resumeWrite turns a ModeWriteResume open into a live write engine:
// it locates the last intact sectors/table pair (design §4.4's
// write-resume), truncates that segment's partial tail, repositions a
// section writer just past it, and replays the already-written media
// through the MD5/SHA1 digest before any new bytes are accepted.
func (h *Handle) resumeWrite(table *chunktable.Table) error {
	resume, err := media.ScanForResume(h.pool)
	if err != nil {
		return err
	}
	h.resumePoint = resume

	seg, err := h.pool.Open(resume.SegmentIndex)
	if err != nil {
		return ewferr.Wrap(ewferr.IO, err, "open resume segment")
	}
	if err := seg.Truncate(resume.TailOffset); err != nil {
		return ewferr.Wrap(ewferr.IO, err, "truncate resume segment tail")
	}
	writer := section.NewWriter(seg, resume.TailOffset)

	cursor := int64(table.Len()) * h.store.Geometry.ChunkSize()

	signature := section.EVFSignature
	if h.dialect == DialectL01 {
		signature = section.LVFSignature
	}
	h.engine = media.NewResumeEngine(h.pool, &h.store.Geometry, table, &h.store.Diagnostics, media.Options{
		CacheCapacity:         h.cfg.cacheCapacity,
		CompressionLevel:      h.cfg.compressionLevel,
		DeltaMode:             h.cfg.deltaMode,
		MaxEntriesPerTable:    h.cfg.maxSegmentTableEntries,
		EmptyBlockCompression: h.cfg.emptyBlockCompression,
		Signature:             signature,
	}, cursor)
	h.engine.BeginSegment(seg, writer, resume.SegmentIndex)

	chunkSize := h.store.Geometry.ChunkSize()
	buf := make([]byte, chunkSize)
	for pos := int64(0); pos < cursor; pos += chunkSize {
		n, rerr := h.engine.ReadAt(buf, pos)
		if rerr != nil && rerr != io.EOF {
			return rerr
		}
		h.engine.FeedDigest(buf[:n])
		if n == 0 {
			break
		}
	}
	return nil
}

func (h *Handle) applyTableEntries(table *chunktable.Table, segIndex int, sectorsOffset, sectorsLen int64, tableRaw, table2Raw []byte) error {
	entries, err := chunktable.DecodeRawEntries(segIndex, sectorsOffset, sectorsLen, tableRaw)
	if err != nil {
		if table2Raw != nil {
			entries, err = chunktable.DecodeRawEntries(segIndex, sectorsOffset, sectorsLen, table2Raw)
			if err != nil {
				start := table.Len()
				count := chunktable.EntryCountHint(tableRaw)
				table.AppendSegmentEntries(make([]chunktable.Entry, count))
				table.MarkRangeMissing(start, count)
				h.store.Diagnostics.TableRecoveredCount++
				return nil
			}
			h.store.Diagnostics.TableRecoveredCount++
		} else {
			return err
		}
	}
	table.AppendSegmentEntries(entries)
	return nil
}

func (h *Handle) decodeLtree(payload []byte) error {
	text, err := h.store.DecodeHeaderPayload(payload, true)
	if err != nil {
		return err
	}
	parser := lef.NewParser(lef.CategoryFile)
	records, err := parser.Parse(text)
	if err != nil {
		return err
	}
	for _, rec := range records {
		h.store.Diagnostics.UnknownLEFTypeCount += len(rec.Unknown)
	}
	tree, err := lef.BuildTree(records)
	if err != nil {
		return err
	}
	h.lefTree = tree
	return nil
}
