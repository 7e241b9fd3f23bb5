// Package metadata implements the key-value metadata store described
// in design §4.5: header values, hash values, geometry, and the
// error/session/acquiry tables, plus the dialect-specific text
// encoding performed at the section-codec boundary.
package metadata

import (
	"bytes"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ewflib/goewf/ewferr"
	"github.com/ewflib/goewf/internal/codec"
)

// typeCodeToIdentifier maps the short EWF header type codes to the
// stable identifiers spec §3 ("Header values") names.
var typeCodeToIdentifier = map[string]string{
	"c":   "case_number",
	"n":   "evidence_number",
	"a":   "description",
	"e":   "examiner_name",
	"t":   "notes",
	"av":  "acquiry_software_version",
	"ov":  "acquiry_operating_system",
	"m":   "acquiry_date",
	"u":   "system_date",
	"p":   "password",
	"r":   "compression_level",
	"md":  "model",
	"sn":  "serial_number",
}

// Store holds parsed header values, hash values, and the geometry and
// table entities that round out design §3's data model.
type Store struct {
	headerValues map[string]string
	hashValues   map[string]string

	Geometry Geometry

	ErrorTable   []Range
	SessionTable []Range
	AcquiryTable []Range

	HeaderCodepage string // e.g. "windows-1252"; governs "header" only

	Diagnostics Diagnostics
}

// NewStore creates an empty metadata store with sane defaults.
func NewStore() *Store {
	return &Store{
		headerValues:   make(map[string]string),
		hashValues:     make(map[string]string),
		HeaderCodepage: "windows-1252",
	}
}

// GetHeaderValue returns a header value by identifier and whether it
// was set.
func (s *Store) GetHeaderValue(id string) (string, bool) {
	v, ok := s.headerValues[id]
	return v, ok
}

// SetHeaderValue sets a header value, overwriting any previous value
// for the same identifier (no duplicate identifiers, per spec §3).
func (s *Store) SetHeaderValue(id, value string) {
	s.headerValues[id] = value
}

// SetHeaderValueIfAbsent applies the documented-but-unverified
// recovery rule from design §9's Open Questions: when an identifier is
// already set to a non-empty value, a later empty/duplicate value for
// the same identifier never overwrites it.
func (s *Store) SetHeaderValueIfAbsent(id, value string) {
	if existing, ok := s.headerValues[id]; ok && existing != "" {
		return
	}
	if value == "" {
		return
	}
	s.headerValues[id] = value
}

// HeaderValueIdentifiers returns the set of identifiers currently
// populated, in no particular order (lookup is unordered per spec §3).
func (s *Store) HeaderValueIdentifiers() []string {
	ids := make([]string, 0, len(s.headerValues))
	for id := range s.headerValues {
		ids = append(ids, id)
	}
	return ids
}

// GetHashValue returns a hash value (MD5, SHA1, or a custom xhash
// identifier) by identifier.
func (s *Store) GetHashValue(id string) (string, bool) {
	v, ok := s.hashValues[id]
	return v, ok
}

// SetHashValue sets a hash value.
func (s *Store) SetHashValue(id, value string) {
	s.hashValues[id] = value
}

// HashValueIdentifiers returns the set of populated hash identifiers.
func (s *Store) HashValueIdentifiers() []string {
	ids := make([]string, 0, len(s.hashValues))
	for id := range s.hashValues {
		ids = append(ids, id)
	}
	return ids
}

// DecodeHeaderPayload inflates a "header"/"header2"/"xheader" section
// payload and decodes its text per the dialect rule in design §4.5:
// "header" uses the configured codepage, "header2"/"xheader" are
// always UTF-16 (detected from the byte-order mark, following the
// teacher's approach in internal/ewf.go).
func (s *Store) DecodeHeaderPayload(payload []byte, wide bool) (string, error) {
	inflated, err := codec.DeflateDecompress(payload, 0)
	if err != nil {
		return "", err
	}
	if len(inflated) == 0 {
		return "", nil
	}

	if wide || looksLikeUTF16BOM(inflated) {
		return decodeUTF16(inflated)
	}
	return decodeCodepage(inflated, s.HeaderCodepage)
}

func looksLikeUTF16BOM(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return (data[0] == 0xff && data[1] == 0xfe) || (data[0] == 0xfe && data[1] == 0xff)
}

func decodeUTF16(data []byte) (string, error) {
	var enc *unicode.Decoder
	switch {
	case data[0] == 0xff && data[1] == 0xfe:
		enc = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case data[0] == 0xfe && data[1] == 0xff:
		enc = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	default:
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	}
	out, _, err := transform.Bytes(enc, data)
	if err != nil {
		return "", ewferr.Wrap(ewferr.BadSectionHeader, err, "decode UTF-16 header text")
	}
	return string(out), nil
}

func decodeCodepage(data []byte, codepage string) (string, error) {
	cm := charmapByName(codepage)
	if cm == nil {
		return string(data), nil // ASCII/UTF-8-compatible fallback
	}
	out, _, err := transform.Bytes(cm.NewDecoder(), data)
	if err != nil {
		return "", ewferr.Wrap(ewferr.BadSectionHeader, err, "decode codepage header text")
	}
	return string(out), nil
}

func charmapByName(name string) *charmap.Charmap {
	switch strings.ToLower(name) {
	case "windows-1252", "cp1252", "":
		return charmap.Windows1252
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "windows-1250", "cp1250":
		return charmap.Windows1250
	case "windows-1251", "cp1251":
		return charmap.Windows1251
	default:
		return nil
	}
}

// ParseHeaderValuesText parses the decoded header text into
// identifier/value pairs and applies them to the store, following the
// "keep the first non-empty" rule design §9 flags as an Open Question.
// The EWF header text layout is a handful of lines per category
// ("main", and — in EnCase5-7 — "srce"/"sub"); this parser locates the
// first "main" block's type-code row and value row, as the teacher's
// ParseHeaderSection does, but tolerates a variable preamble instead
// of hardcoding line indices 2/3.
func (s *Store) ParseHeaderValuesText(text string) error {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i+3 < len(lines); i++ {
		if lines[i] != "main" {
			continue
		}
		types := strings.Split(lines[i+1], "\t")
		values := strings.Split(lines[i+2], "\t")
		if len(types) != len(values) {
			return ewferr.New(ewferr.MalformedRecord, "header type/value column count mismatch")
		}
		for k, code := range types {
			id, ok := typeCodeToIdentifier[code]
			if !ok {
				// Not one of the thirteen well-known codes, but header
				// values are a general map (spec §3/§4.7, including
				// xheader custom entries): keep the code itself as the
				// identifier rather than dropping the value, and still
				// count it as an unrecognized type for diagnostics.
				s.Diagnostics.UnknownHeaderType++
				id = code
			}
			s.SetHeaderValueIfAbsent(id, values[k])
		}
		return nil
	}
	return ewferr.New(ewferr.MalformedRecord, "no main header category found")
}

// EncodeHeaderValuesText serializes the header values back into the
// EnCase "main" category text block, inverse of ParseHeaderValuesText.
// Every identifier currently set is persisted, not just the thirteen
// well-known codes: the fixed table is emitted first (blank columns
// included) for deterministic, byte-reproducible output, and any
// identifier outside that table — a custom/xheader entry, or simply one
// set_header_value never taught a short code — is appended afterward,
// keyed by the identifier itself as its own column code, in sorted
// order for determinism.
func (s *Store) EncodeHeaderValuesText() string {
	order := []string{"c", "n", "a", "e", "t", "av", "ov", "m", "u", "p", "r", "md", "sn"}
	codes := make([]string, 0, len(s.headerValues))
	values := make([]string, 0, len(s.headerValues))
	known := make(map[string]bool, len(order))

	for _, code := range order {
		id := typeCodeToIdentifier[code]
		known[id] = true
		codes = append(codes, code)
		values = append(values, s.headerValues[id])
	}

	extra := make([]string, 0, len(s.headerValues))
	for id := range s.headerValues {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		codes = append(codes, id)
		values = append(values, s.headerValues[id])
	}

	var buf bytes.Buffer
	buf.WriteString("1\n")
	buf.WriteString("main\n")
	buf.WriteString(strings.Join(codes, "\t"))
	buf.WriteString("\n")
	buf.WriteString(strings.Join(values, "\t"))
	buf.WriteString("\n\n")
	return buf.String()
}

// EncodeHeaderPayload compresses the header text for writing, choosing
// UTF-16LE with BOM for header2/xheader and the configured codepage
// for header, mirroring the read-side dialect rule.
func (s *Store) EncodeHeaderPayload(wide bool, level int) ([]byte, error) {
	text := s.EncodeHeaderValuesText()

	var raw []byte
	if wide {
		enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
		out, _, err := transform.Bytes(enc, []byte(text))
		if err != nil {
			return nil, ewferr.Wrap(ewferr.IO, err, "encode UTF-16 header text")
		}
		raw = out
	} else {
		cm := charmapByName(s.HeaderCodepage)
		if cm == nil {
			raw = []byte(text)
		} else {
			out, _, err := transform.Bytes(cm.NewEncoder(), []byte(text))
			if err != nil {
				return nil, ewferr.Wrap(ewferr.IO, err, "encode codepage header text")
			}
			raw = out
		}
	}

	compressed, _ := codec.DeflateCompress(raw, level)
	return compressed, nil
}
