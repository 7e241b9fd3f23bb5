package ewf

// Dialect identifies which EWF variant a set of segment files encodes
// (design §4.2's "Dialect detection"). Selection is immutable for the
// life of an open image.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectEnCase1
	DialectEnCase2
	DialectEnCase3
	DialectEnCase4
	DialectEnCase5
	DialectEnCase6
	DialectEnCase7
	DialectSMART
	DialectLinen
	DialectFTK
	DialectEx01
	DialectL01
)

func (d Dialect) String() string {
	switch d {
	case DialectEnCase1:
		return "encase1"
	case DialectEnCase2:
		return "encase2"
	case DialectEnCase3:
		return "encase3"
	case DialectEnCase4:
		return "encase4"
	case DialectEnCase5:
		return "encase5"
	case DialectEnCase6:
		return "encase6"
	case DialectEnCase7:
		return "encase7"
	case DialectSMART:
		return "smart"
	case DialectLinen:
		return "linen"
	case DialectFTK:
		return "ftk"
	case DialectEx01:
		return "ex01"
	case DialectL01:
		return "l01"
	default:
		return "unknown"
	}
}

// segmentExtPrefix returns the conventional first letter of a new
// acquisition's segment extension (spec §6: "E01…", "e01…" for Ex01,
// "L01…" for logical evidence files) for the dialect a write is
// configured to produce.
func (d Dialect) segmentExtPrefix() byte {
	switch d {
	case DialectEx01:
		return 'e'
	case DialectL01:
		return 'L'
	case DialectSMART:
		return 's'
	default:
		return 'E'
	}
}

// detectionState tracks the sections seen so far while walking the
// first segment, in the order design §4.2 uses to resolve a dialect:
// "the tag plus a version byte plus the pattern of subsequent
// volume/disk/data presence".
type detectionState struct {
	sawLVFSignature bool
	sawHeader2      bool
	sawXHeader      bool
	sawVolume       bool
	sawDisk         bool
	sawData         bool
	sawLtree        bool
	volumeVersion   byte
}

// resolve picks a dialect from the accumulated signals. L01 is
// unambiguous from the LVF file-header signature; among the
// EVF-signature images, an xheader section selects Ex01, header2
// selects EnCase 7 when the volume version byte is 2 or more and
// EnCase 5 otherwise, and without either a disk section selects
// SMART, a volume section selects EnCase 4 (version byte 1 or more)
// or EnCase 1, and no geometry section selects FTK. The data section
// is not consulted, and Linen, EnCase 2/3 and EnCase 6 are never
// returned.
func (d *detectionState) resolve() Dialect {
	if d.sawLVFSignature {
		return DialectL01
	}
	if d.sawXHeader {
		return DialectEx01
	}
	if d.sawHeader2 {
		if d.volumeVersion >= 2 {
			return DialectEnCase7
		}
		return DialectEnCase5
	}
	switch {
	case d.sawDisk:
		return DialectSMART
	case d.sawVolume && d.volumeVersion >= 1:
		return DialectEnCase4
	case d.sawVolume:
		return DialectEnCase1
	default:
		return DialectFTK
	}
}
