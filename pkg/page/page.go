// Package page implements the slotted heap page format: a fixed-size
// 24-byte header, a forward-growing array of 4-byte line pointers, a
// free-space gap, and a backward-growing, reverse-packed area of tuple
// bytes. Decode and Page.Encode are the main entry points; PeekLength
// reads only the page length a header declares.
package page

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size of the page header in bytes.
const HeaderSize = 24

// Header field offsets within the 24-byte page header.
const (
	offsetLSN             = 0  // 8 bytes: pd_lsn
	offsetChecksum        = 8  // 2 bytes: pd_checksum
	offsetFlags           = 10 // 2 bytes: pd_flags
	offsetLower           = 12 // 2 bytes: pd_lower
	offsetUpper           = 14 // 2 bytes: pd_upper
	offsetSpecial         = 16 // 2 bytes: pd_special
	offsetPageSizeVersion = 18 // 2 bytes: pd_pagesize_version (size high byte, version low byte)
	offsetPruneXid        = 20 // 4 bytes: pd_prune_xid
)

// Errors returned while decoding or encoding a page.
var (
	// ErrHeaderTooShort is returned when fewer than HeaderSize bytes are available.
	ErrHeaderTooShort = errors.New("page: header data too short")

	// ErrPageLengthMismatch is returned by Encode when the reconstructed
	// byte block does not equal the page's declared length.
	ErrPageLengthMismatch = errors.New("page: reconstructed length does not match declared page length")

	// ErrGeometryInvariant is returned when pd_lower/pd_upper/page length
	// fail to satisfy the invariants required before encoding.
	ErrGeometryInvariant = errors.New("page: header geometry invariant violated")

	// ErrInvalidLinePointerFlag is returned when a line-pointer's flag
	// bits do not match any enumerated LinePointerFlag.
	ErrInvalidLinePointerFlag = errors.New("page: invalid line pointer flag")

	// ErrTruncatedTuple is returned when a line pointer's offset/length
	// pair runs past the bytes available in the page.
	ErrTruncatedTuple = errors.New("page: line pointer addresses bytes past end of page")

	// ErrInvalidPdVersion is returned when pd_pagesize_version's low byte
	// does not match any enumerated page layout version.
	ErrInvalidPdVersion = errors.New("page: invalid pd_pagesize_version version byte")
)

// maxPdVersion is the highest page layout version enumerated in
// pd_pagesize_version's low byte.
const maxPdVersion = 4

// LinePointerFlag is the 2-bit lp_flags tag of a LinePointer.
type LinePointerFlag uint8

const (
	LPUnused LinePointerFlag = iota
	LPNormal
	LPRedirect
	LPDead
)

// LinePointer is the 4-byte bit-packed slot-array entry: bits 0..14 are
// the byte offset of the tuple from the page start, bits 15..16 are the
// flag tag, and bits 17..31 are the tuple's byte length.
type LinePointer struct {
	Off   uint32
	Flags LinePointerFlag
	Len   uint32
}

const (
	lpOffMask    = 0x7FFF // bits 0..14
	lpFlagsMask  = 0x3    // 2 bits, shifted into place below
	lpFlagsShift = 15
	lpLenShift   = 17
)

// DecodeLinePointer unpacks a 4-byte little-endian line-pointer word.
func DecodeLinePointer(raw uint32) (LinePointer, error) {
	flags := LinePointerFlag((raw >> lpFlagsShift) & lpFlagsMask)
	if flags > LPDead {
		return LinePointer{}, ErrInvalidLinePointerFlag
	}
	return LinePointer{
		Off:   raw & lpOffMask,
		Flags: flags,
		Len:   raw >> lpLenShift,
	}, nil
}

// Encode packs a LinePointer back into its 4-byte little-endian word.
func (lp LinePointer) Encode() (uint32, error) {
	if lp.Flags > LPDead {
		return 0, ErrInvalidLinePointerFlag
	}
	if lp.Off > lpOffMask {
		return 0, ErrGeometryInvariant
	}
	return (lp.Off & lpOffMask) | (uint32(lp.Flags)&lpFlagsMask)<<lpFlagsShift | lp.Len<<lpLenShift, nil
}

// Header is the fixed 24-byte page header.
type Header struct {
	LSN             uint64
	Checksum        uint16
	Flags           uint16
	Lower           uint16
	Upper           uint16
	Special         uint16
	PageSizeVersion uint16 // high byte: declared page size >> 8; low byte: version enum
	PruneXid        uint32
}

// PageSize returns the page length the header declares, derived from the
// high byte of pd_pagesize_version.
func (h Header) PageSize() int {
	return int(h.PageSizeVersion & 0xFF00)
}

// Version returns the low-byte version enum of pd_pagesize_version.
func (h Header) Version() uint8 {
	return uint8(h.PageSizeVersion & 0x00FF)
}

// decodeHeader parses the 24-byte header at the start of data.
func decodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrHeaderTooShort
	}
	h := Header{
		LSN:             binary.LittleEndian.Uint64(data[offsetLSN:]),
		Checksum:        binary.LittleEndian.Uint16(data[offsetChecksum:]),
		Flags:           binary.LittleEndian.Uint16(data[offsetFlags:]),
		Lower:           binary.LittleEndian.Uint16(data[offsetLower:]),
		Upper:           binary.LittleEndian.Uint16(data[offsetUpper:]),
		Special:         binary.LittleEndian.Uint16(data[offsetSpecial:]),
		PageSizeVersion: binary.LittleEndian.Uint16(data[offsetPageSizeVersion:]),
		PruneXid:        binary.LittleEndian.Uint32(data[offsetPruneXid:]),
	}
	if h.Version() > maxPdVersion {
		return Header{}, ErrInvalidPdVersion
	}
	return h, nil
}

// encode writes the header's 24 bytes into dst, zeroing the checksum
// field regardless of the value carried on h (checksum recomputation is
// out of scope; every write reports a clean slate).
func (h Header) encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[offsetLSN:], h.LSN)
	binary.LittleEndian.PutUint16(dst[offsetChecksum:], 0)
	binary.LittleEndian.PutUint16(dst[offsetFlags:], h.Flags)
	binary.LittleEndian.PutUint16(dst[offsetLower:], h.Lower)
	binary.LittleEndian.PutUint16(dst[offsetUpper:], h.Upper)
	binary.LittleEndian.PutUint16(dst[offsetSpecial:], h.Special)
	binary.LittleEndian.PutUint16(dst[offsetPageSizeVersion:], h.PageSizeVersion)
	binary.LittleEndian.PutUint32(dst[offsetPruneXid:], h.PruneXid)
}

// Item is one slotted tuple: its line pointer and the raw tuple bytes
// (header + optional null bitmap/padding + payload) it addresses. Items
// with an UNUSED line pointer and a zero offset have no Body.
type Item struct {
	LP   LinePointer
	Body []byte
}

// Page is a single decoded slotted page. Length is the declared page
// length taken from the header (commonly 8192) and is reproduced
// exactly by Encode.
type Page struct {
	Header Header
	Items  []Item
	Length int
}

// PeekLength decodes only the 24-byte header at the start of data and
// returns the page length it declares, without validating or parsing
// anything past the header.
func PeekLength(data []byte) (int, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return 0, err
	}
	return hdr.PageSize(), nil
}

// Decode parses a single page out of data, which must be exactly
// length bytes (the page's own declared length is not consulted here;
// the caller, e.g. a segment reader, supplies it from context).
func Decode(data []byte, length int) (Page, error) {
	if len(data) != length {
		return Page{}, ErrPageLengthMismatch
	}

	hdr, err := decodeHeader(data)
	if err != nil {
		return Page{}, err
	}

	if int(hdr.Lower) < HeaderSize || hdr.Lower > hdr.Upper || int(hdr.Upper) > length {
		return Page{}, ErrGeometryInvariant
	}

	var items []Item
	for off := HeaderSize; off < int(hdr.Lower); off += 4 {
		raw := binary.LittleEndian.Uint32(data[off : off+4])
		lp, err := DecodeLinePointer(raw)
		if err != nil {
			return Page{}, err
		}

		item := Item{LP: lp}
		if lp.Len > 0 {
			start := int(lp.Off)
			end := start + int(lp.Len)
			if start < 0 || end > length || end < start {
				return Page{}, ErrTruncatedTuple
			}
			item.Body = data[start:end]
		}
		items = append(items, item)
	}

	return Page{Header: hdr, Items: items, Length: length}, nil
}

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// Encode reconstructs the page as a byte block of exactly p.Length
// bytes: header, line-pointer array in slot order, a zeroed free-space
// gap, tuple bodies in reverse slot order each padded to an 8-byte
// boundary, and zero padding out to the declared page length.
func (p Page) Encode() ([]byte, error) {
	if int(p.Header.Lower) < HeaderSize || p.Header.Lower > p.Header.Upper || int(p.Header.Upper) > p.Length {
		return nil, ErrGeometryInvariant
	}
	if (int(p.Header.Lower)-HeaderSize)%4 != 0 {
		return nil, ErrGeometryInvariant
	}

	buf := make([]byte, p.Length)
	p.Header.encode(buf)

	for i, item := range p.Items {
		off := HeaderSize + i*4
		if off+4 > int(p.Header.Lower) {
			return nil, ErrGeometryInvariant
		}
		raw, err := item.LP.Encode()
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], raw)
	}
	// buf[p.Header.Lower:p.Header.Upper] is already zero from make().

	writeAt := int(p.Header.Upper)
	for i := len(p.Items) - 1; i >= 0; i-- {
		body := p.Items[i].Body
		if len(body) == 0 {
			continue
		}
		padded := align8(len(body))
		if writeAt+padded > p.Length {
			return nil, ErrGeometryInvariant
		}
		copy(buf[writeAt:writeAt+len(body)], body)
		writeAt += padded
	}

	if len(buf) != p.Length {
		return nil, ErrPageLengthMismatch
	}

	return buf, nil
}
