// Package lef parses Logical Evidence File records: the tab-delimited
// category streams (source, subject, permission, authenticity, …)
// carried in L01/Lx01 "ltree"/"ltype" sections, grounded on
// libewf_lef_source.c's type-code table (design §4.6, spec §8 S6).
package lef

import (
	"strconv"
	"strings"

	"github.com/ewflib/goewf/ewferr"
)

// Category names the record type a tab-delimited block describes.
type Category string

const (
	CategoryFile       Category = "file"
	CategorySource     Category = "srce"
	CategorySubject    Category = "sub"
	CategoryPermission Category = "perm"
	CategoryAuth       Category = "auth"
)

// Record is one parsed LEF entry: a flat set of typed fields plus any
// type codes the parser didn't recognize, preserved for diagnostics
// rather than dropped silently.
type Record struct {
	Category Category
	Fields   map[string]string // identifier -> raw string value
	Unknown  []string          // type codes not in the mapping table
}

// typeCodes maps the LEF type codes to stable field identifiers. The
// table is grounded on libewf_lef_source.c's "srce" handling, which
// spec.md's S6 scenario shows the "file" category reusing verbatim
// (both carry ev/tb/lo/po/ah/gu/aq columns); "p" (parent identifier)
// is file-entry-specific and has no source analogue. "si"
// (subject-information) is deliberately absent: upstream libewf marks
// it with a literal "TODO implement" and never assigns it a field, so
// this parser reports it as Unknown rather than inventing a meaning
// for it (SPEC_FULL.md §9).
var typeCodes = map[string]string{
	"loc": "location",
	"mfr": "manufacturer",
	"pgu": "primary_device_guid",
	"ah":  "md5_hash",
	"aq":  "acquisition_time",
	"do":  "domain",
	"dt":  "drive_type",
	"ev":  "evidence_number",
	"id":  "identifier",
	"ip":  "ip_address",
	"gu":  "device_guid",
	"lo":  "logical_offset",
	"ma":  "mac_address",
	"mo":  "model",
	"po":  "physical_offset",
	"se":  "serial_number",
	"sh":  "sha1_hash",
	"tb":  "size",
	"n":   "name",
	"p":   "parent_identifier",
}

// signedWithSentinel fields encode absence as -1 rather than as an
// empty/missing column (libewf_lef_source.c's logical_offset and
// physical_offset handling).
var signedWithSentinel = map[string]bool{
	"logical_offset":  true,
	"physical_offset": true,
}

// Parser walks a decompressed "ltree"/"ltype" payload for one
// category: a type-code row followed by one value row per record. The
// text is read from its type-code row on; a category line or a
// category terminator line is not recognised and is read as a type
// row or a value row like any other line.
type Parser struct {
	category Category
}

// NewParser creates a Parser for the given category stream.
func NewParser(category Category) *Parser {
	return &Parser{category: category}
}

// Parse decodes every record in text: a type-code header row followed
// by one tab-delimited value row per record. Column count mismatches
// between a value row and the type row fail MalformedRecord (spec
// §4.6's parse contract).
func (p *Parser) Parse(text string) ([]Record, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) {
		return nil, nil
	}

	typeLine := lines[start]
	types := strings.Split(typeLine, "\t")
	for i, t := range types {
		types[i] = strings.TrimRight(t, "\r")
	}

	var records []Record
	for _, line := range lines[start+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		values := strings.Split(line, "\t")
		if len(values) != len(types) {
			return nil, ewferr.New(ewferr.MalformedRecord, "LEF type/value column count mismatch").
				WithDetail("category", string(p.category)).
				WithDetail("expected_columns", len(types)).
				WithDetail("got_columns", len(values))
		}
		rec := Record{Category: p.category, Fields: make(map[string]string)}

		for i, code := range types {
			value := strings.TrimRight(values[i], "\r")
			if value == "" {
				continue
			}

			id, ok := typeCodes[code]
			if !ok {
				rec.Unknown = append(rec.Unknown, code)
				rec.Fields[code] = value
				continue
			}
			rec.Fields[id] = value
		}
		records = append(records, rec)
	}
	return records, nil
}

// Int64 reads a field as a signed 64-bit integer, honoring the -1
// sentinel convention for logical_offset/physical_offset.
func (r Record) Int64(id string) (int64, bool, error) {
	raw, ok := r.Fields[id]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, ewferr.Wrap(ewferr.MalformedRecord, err, "parse LEF integer field").
			WithDetail("field", id)
	}
	if signedWithSentinel[id] && n == -1 {
		return -1, false, nil
	}
	return n, true, nil
}

// Uint64 reads a field as an unsigned 64-bit integer (e.g. "tb" size,
// "id" identifier).
func (r Record) Uint64(id string) (uint64, bool, error) {
	raw, ok := r.Fields[id]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, ewferr.Wrap(ewferr.MalformedRecord, err, "parse LEF unsigned field").
			WithDetail("field", id)
	}
	return n, true, nil
}

// String reads a field as a raw string.
func (r Record) String(id string) (string, bool) {
	v, ok := r.Fields[id]
	return v, ok
}
