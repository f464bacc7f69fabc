// Package schema models the column list a caller supplies to describe a
// relation's tuple layout: an ordered list of column definitions parsed
// from a semicolon/comma-separated CSV-ish string, or a "raw" mode that
// treats every tuple payload as one opaque field.
package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned while parsing a schema.
var (
	ErrMalformedRecord  = errors.New("schema: record does not have exactly 4 fields")
	ErrInvalidLength    = errors.New("schema: length is not an integer")
	ErrInvalidAlignment = errors.New("schema: alignment code must be one of c, s, i, d")
)

// VarlenaLength marks a column as variable-length (varlena-encoded).
const VarlenaLength = -1

// RawFieldName is the field name used for the single virtual column in
// Raw mode.
const RawFieldName = "raw_data"

// internalAttrs names the system columns dropped from any parsed schema.
var internalAttrs = map[string]bool{
	"tableoid": true,
	"ctid":     true,
	"xmin":     true,
	"xmax":     true,
	"cmin":     true,
	"cmax":     true,
}

// alignmentWidths maps the external CSV alignment code to its byte width.
var alignmentWidths = map[string]int{
	"c": 1,
	"s": 2,
	"i": 4,
	"d": 8,
}

// Column is a single parsed column definition.
type Column struct {
	Name      string
	Type      string
	Length    int // byte length; VarlenaLength (-1) marks a varlena column
	Alignment int // byte width: 1, 2, 4, or 8
}

// IsVarlena reports whether the column is variable-length.
func (c Column) IsVarlena() bool { return c.Length == VarlenaLength }

// Schema is the parsed description of a relation's columns. A Schema is
// built once and is read-only afterward; it may be shared freely across
// concurrent reads.
type Schema struct {
	Raw     bool
	Columns []Column
}

// NewRaw returns the schema used when the caller supplies no column
// description: a single opaque field named RawFieldName.
func NewRaw() *Schema {
	return &Schema{Raw: true}
}

// Parse builds a Typed schema from a semicolon-separated list of
// comma-separated quadruples: name,type,length,alignment. Records whose
// name is an internal system attribute (tableoid, ctid, xmin, xmax,
// cmin, cmax) are dropped.
func Parse(csvData string) (*Schema, error) {
	records := strings.Split(csvData, ";")
	s := &Schema{}

	for _, record := range records {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		fields, err := readCSVRecord(record)
		if err != nil {
			return nil, err
		}
		if len(fields) != 4 {
			return nil, ErrMalformedRecord
		}

		name := fields[0]
		if internalAttrs[name] {
			continue
		}

		length, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLength, fields[2])
		}

		width, ok := alignmentWidths[fields[3]]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAlignment, fields[3])
		}

		s.Columns = append(s.Columns, Column{
			Name:      name,
			Type:      fields[1],
			Length:    length,
			Alignment: width,
		})
	}

	return s, nil
}

func readCSVRecord(record string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(record))
	r.FieldsPerRecord = -1
	return r.Read()
}
