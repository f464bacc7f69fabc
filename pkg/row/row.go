// Package row (de)serializes a tuple payload against a column schema:
// walking fixed-width and varlena columns left to right, honoring the
// null bitmap and the alignment-padding rule that follows a short
// varlena column, and producing/consuming a tagged Field value per
// column.
package row

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pgheapedit/pkg/schema"
	"pgheapedit/pkg/tuple"
	"pgheapedit/pkg/varlena"
)

// Errors returned while (de)serializing a row.
var (
	ErrSchemaArityMismatch  = errors.New("row: value count does not match schema column count")
	ErrUnsupportedFieldType = errors.New("row: fixed-length column has an unknown type and its value is not valid base64")
	ErrPayloadTruncated     = errors.New("row: payload too short for schema")
)

// NullToken is the literal string marking a null field in a row CSV.
const NullToken = "NULL"

// Kind tags which variant of Field is populated.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindBytes
)

// Field is one decoded column value: exactly one of the Int/Bytes
// payloads is meaningful, selected by Kind.
type Field struct {
	Name   string
	Type   string
	Kind   Kind
	Int    int64
	Bytes  []byte
	IsNull bool
}

// String renders a Field for display (CLI output, CSV round-trip).
func (f Field) String() string {
	switch f.Kind {
	case KindNull:
		return NullToken
	case KindInt:
		return strconv.FormatInt(f.Int, 10)
	default:
		return string(f.Bytes)
	}
}

// parseableTypes is the small fixed set of integer/date/boolean type
// tags the core interprets as signed little-endian integers; anything
// else is surfaced as raw bytes.
var parseableTypes = map[string]bool{
	"bool": true, "boolean": true,
	"int1": true, "int2": true, "int4": true, "int8": true,
	"smallint": true, "int": true, "integer": true, "bigint": true,
	"oid": true, "xid": true, "cid": true,
	"date": true, "timestamp": true, "timestamptz": true,
}

func align4(n int) int { return (n + 3) &^ 3 }
func align8(n int) int { return (n + 7) &^ 7 }

// decodeSignedLE interprets the first width bytes of b as a little-endian
// signed integer.
func decodeSignedLE(b []byte, width int) int64 {
	var u uint64
	for i := 0; i < width; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	switch width {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

func encodeSignedLE(v int64, width int) []byte {
	buf := make([]byte, width)
	u := uint64(v)
	for i := 0; i < width; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	return buf
}

// is1ByteVarlena reports whether the given already-encoded varlena
// structure used the 1-byte header variant.
func is1ByteVarlena(encoded []byte) bool {
	return len(encoded) > 0 && encoded[0]&0x01 == 0x01 && encoded[0] != 0x01
}

// Deserialize walks payload against sch, producing one Field per column
// (or the single raw_data field in Raw mode). h supplies the null
// bitmap consulted in Typed mode.
func Deserialize(payload []byte, h tuple.Header, sch *schema.Schema) ([]Field, error) {
	if sch.Raw {
		return []Field{{Name: schema.RawFieldName, Kind: KindBytes, Bytes: payload}}, nil
	}

	hasNull := h.Infomask.Has(tuple.HeapHasNull)
	cols := sch.Columns
	fields := make([]Field, 0, len(cols))
	offset := 0

	for i, col := range cols {
		isNull := hasNull && h.IsNull(i)
		if isNull {
			fields = append(fields, Field{Name: col.Name, Type: col.Type, Kind: KindNull, IsNull: true})
			continue
		}

		if col.IsVarlena() {
			if offset > len(payload) {
				return nil, ErrPayloadTruncated
			}
			v, err := varlena.Decode(payload[offset:])
			if err != nil {
				return nil, fmt.Errorf("row: column %q: %w", col.Name, err)
			}
			fields = append(fields, Field{Name: col.Name, Type: col.Type, Kind: KindBytes, Bytes: v.Value})
			offset += v.Size

			// Alignment correction: after a 1-byte varlena, pad to the next
			// 4-byte boundary only when the next column is fixed-length,
			// non-null, and exists. No padding is added after a 4-byte varlena.
			if i+1 < len(cols) && v.Size-len(v.Value) == 1 {
				next := cols[i+1]
				nextNull := hasNull && h.IsNull(i+1)
				if !next.IsVarlena() && !nextNull {
					offset = align4(offset)
				}
			}
			continue
		}

		end := offset + col.Length
		if end > len(payload) {
			return nil, ErrPayloadTruncated
		}
		raw := payload[offset:end]

		var field Field
		if parseableTypes[col.Type] {
			field = Field{Name: col.Name, Type: col.Type, Kind: KindInt, Int: decodeSignedLE(raw, col.Alignment)}
		} else {
			field = Field{Name: col.Name, Type: col.Type, Kind: KindBytes, Bytes: raw}
		}
		fields = append(fields, field)
		offset = end
	}

	return fields, nil
}

// Serialize encodes values (one string per schema column, NullToken
// marking a null field) against sch and the current tuple header,
// returning the new payload bytes and the header updated to match
// (infomask HEAP_HASNULL bit, bitmap, and t_hoff).
func Serialize(values []string, h tuple.Header, sch *schema.Schema) ([]byte, tuple.Header, error) {
	if len(values) != len(sch.Columns) {
		return nil, tuple.Header{}, ErrSchemaArityMismatch
	}

	cols := sch.Columns
	var payload []byte
	nonNull := make([]bool, len(cols))
	anyNull := false

	for i, col := range cols {
		val := values[i]
		if val == NullToken {
			nonNull[i] = false
			anyNull = true
			continue
		}
		nonNull[i] = true

		switch {
		case col.IsVarlena():
			encoded, err := varlena.Encode([]byte(val))
			if err != nil {
				return nil, tuple.Header{}, fmt.Errorf("row: column %q: %w", col.Name, err)
			}
			payload = append(payload, encoded...)

			if i+1 < len(cols) && is1ByteVarlena(encoded) {
				next := cols[i+1]
				nextNull := values[i+1] == NullToken
				if !next.IsVarlena() && !nextNull {
					padded := align4(len(payload))
					for len(payload) < padded {
						payload = append(payload, 0)
					}
				}
			}

		case parseableTypes[col.Type]:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, tuple.Header{}, fmt.Errorf("row: column %q: %w", col.Name, err)
			}
			payload = append(payload, encodeSignedLE(n, col.Alignment)...)

		default:
			decoded, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return nil, tuple.Header{}, fmt.Errorf("%w: column %q", ErrUnsupportedFieldType, col.Name)
			}
			payload = append(payload, decoded...)
		}
	}

	newHeader := h
	if anyNull {
		size := tuple.NullmapSize(len(cols))
		bitmap := make([]byte, size)
		for i, ok := range nonNull {
			if ok {
				bitmap[i/8] |= 1 << uint(i%8)
			}
		}
		newHeader.Infomask = newHeader.Infomask.Set(tuple.HeapHasNull)
		newHeader.Infomask2 = newHeader.Infomask2.WithNatts(len(cols))
		newHeader.Nullmap = bitmap
		newHeader.NullmapByteSize = size
		newHeader.Hoff = uint8(tuple.FixedHeaderSize + align8(newHeader.NullmapByteSize))
	} else {
		newHeader.Infomask = newHeader.Infomask.Clear(tuple.HeapHasNull)
		newHeader.Infomask2 = newHeader.Infomask2.WithNatts(len(cols))
		newHeader.Nullmap = nil
		newHeader.NullmapByteSize = 1
		newHeader.Hoff = uint8(tuple.FixedHeaderSize + align8(1))
	}

	return payload, newHeader, nil
}

// JoinCSV renders fields as a single comma-separated row (for CLI
// output); strings.Join is sufficient since Field.String already
// applies the NULL token and raw bytes are rendered verbatim.
func JoinCSV(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}
