// Package tuple implements the 23-byte MVCC heap-tuple header, its
// bit-packed ItemPointer/InfoMask/InfoMask2 fields, and the dynamic
// null bitmap that follows the header when HEAP_HASNULL is set.
package tuple

import (
	"encoding/binary"
	"errors"
	"math"
)

// FixedHeaderSize is the size, in bytes, of the fixed portion of a
// tuple header (everything before the optional null bitmap).
const FixedHeaderSize = 23

// Header field offsets within the fixed 23-byte region.
const (
	offsetXmin      = 0  // 4 bytes
	offsetXmax      = 4  // 4 bytes
	offsetCid       = 8  // 4 bytes: t_cid / t_xvac alias
	offsetCtid      = 12 // 6 bytes: ItemPointer
	offsetInfomask2 = 18 // 2 bytes
	offsetInfomask  = 20 // 2 bytes
	offsetHoff      = 22 // 1 byte
)

// Errors returned while decoding or encoding a tuple header.
var (
	ErrHeaderTooShort  = errors.New("tuple: header data too short")
	ErrBitmapTruncated = errors.New("tuple: null bitmap runs past end of available data")
)

// InfoMask is the 16-bit t_infomask flag word. All 16 bits are flags;
// there is no packed numeric field.
type InfoMask uint16

// HEAP_XACT_MASK isolates the transaction-status bits of t_infomask.
const HeapXactMask InfoMask = 0xFFF0

const (
	HeapHasNull       InfoMask = 0x0001
	HeapHasVarWidth   InfoMask = 0x0002
	HeapHasExternal   InfoMask = 0x0004
	HeapHasOidOld     InfoMask = 0x0008
	HeapXmaxKeyShrLck InfoMask = 0x0010
	HeapComboCid      InfoMask = 0x0020
	HeapXmaxExclLock  InfoMask = 0x0040
	HeapXmaxLockOnly  InfoMask = 0x0080
	HeapXminCommitted InfoMask = 0x0100
	HeapXminInvalid   InfoMask = 0x0200
	HeapXmaxCommitted InfoMask = 0x0400
	HeapXmaxInvalid   InfoMask = 0x0800
	HeapXmaxIsMulti   InfoMask = 0x1000
	HeapUpdated       InfoMask = 0x2000
	HeapMovedOff      InfoMask = 0x4000
	HeapMovedIn       InfoMask = 0x8000
)

// Has reports whether every bit in flag is set in m.
func (m InfoMask) Has(flag InfoMask) bool { return m&flag == flag }

// Set returns m with flag's bits set.
func (m InfoMask) Set(flag InfoMask) InfoMask { return m | flag }

// Clear returns m with flag's bits cleared.
func (m InfoMask) Clear(flag InfoMask) InfoMask { return m &^ flag }

// InfoMask2 packs the 11-bit attribute count (natts) in its low bits
// and a small set of flag bits in its high bits.
type InfoMask2 uint16

const (
	heapNattsMask  InfoMask2 = 0x07FF
	heapFlagsMask  InfoMask2 = 0xF800
	HeapKeysUpdate InfoMask2 = 0x2000
	HeapHotUpdated InfoMask2 = 0x4000
	HeapOnlyTuple  InfoMask2 = 0x8000
)

// Natts returns the attribute count packed into the low 11 bits.
func (m InfoMask2) Natts() int { return int(m & heapNattsMask) }

// WithNatts returns m with its low 11 bits replaced by natts, flags
// preserved.
func (m InfoMask2) WithNatts(natts int) InfoMask2 {
	return (m &^ heapNattsMask) | InfoMask2(natts)&heapNattsMask
}

// Has reports whether every bit in flag is set in m's flag bits.
func (m InfoMask2) Has(flag InfoMask2) bool { return m&heapFlagsMask&flag == flag }

// Set returns m with flag's bits set.
func (m InfoMask2) Set(flag InfoMask2) InfoMask2 { return m | (flag & heapFlagsMask) }

// Clear returns m with flag's bits cleared.
func (m InfoMask2) Clear(flag InfoMask2) InfoMask2 { return m &^ (flag & heapFlagsMask) }

// ItemPointer is the 6-byte (block hi, block lo, position) tuple
// self/forward pointer used by t_ctid.
type ItemPointer struct {
	BlockHi uint16
	BlockLo uint16
	PosID   uint16
}

func decodeItemPointer(data []byte) ItemPointer {
	return ItemPointer{
		BlockHi: binary.LittleEndian.Uint16(data[0:2]),
		BlockLo: binary.LittleEndian.Uint16(data[2:4]),
		PosID:   binary.LittleEndian.Uint16(data[4:6]),
	}
}

func (ip ItemPointer) encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], ip.BlockHi)
	binary.LittleEndian.PutUint16(dst[2:4], ip.BlockLo)
	binary.LittleEndian.PutUint16(dst[4:6], ip.PosID)
}

// Header is a decoded MVCC heap tuple header: the 23 fixed bytes plus
// the null bitmap read alongside it when HEAP_HASNULL is set.
type Header struct {
	Xmin      uint32
	Xmax      uint32
	Cid       uint32 // aliases t_xvac
	Ctid      ItemPointer
	Infomask2 InfoMask2
	Infomask  InfoMask
	Hoff      uint8

	// NullmapByteSize is ceil(natts/8) when HEAP_HASNULL is set, else 1
	// (the single padding byte written in place of a bitmap).
	NullmapByteSize int
	// Nullmap holds the raw bitmap bytes, one bit per attribute, bit i
	// of byte i/8 (LSB-first within each byte) cleared meaning
	// attribute i is null. natts can reach 2047 (the 11-bit count), far
	// past any fixed machine word, so it is not a uint64. Valid
	// only when Infomask carries HEAP_HASNULL.
	Nullmap []byte
}

// NullmapSize returns ceil(natts/8), the number of bitmap bytes HEAP_HASNULL
// requires for the given attribute count.
func NullmapSize(natts int) int {
	return int(math.Ceil(float64(natts) / 8))
}

// IsNull reports whether attribute i (0-indexed) is marked null in the
// header's bitmap. Only meaningful when h.Infomask.Has(HeapHasNull).
func (h Header) IsNull(i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(h.Nullmap) {
		return true
	}
	return h.Nullmap[byteIdx]&(1<<uint(i%8)) == 0
}

// Decode parses a tuple header starting at offset 0 of data. data must
// contain at least the fixed header; if HEAP_HASNULL is set it must
// also contain the null bitmap that follows.
func Decode(data []byte) (Header, error) {
	if len(data) < FixedHeaderSize {
		return Header{}, ErrHeaderTooShort
	}

	h := Header{
		Xmin:      binary.LittleEndian.Uint32(data[offsetXmin:]),
		Xmax:      binary.LittleEndian.Uint32(data[offsetXmax:]),
		Cid:       binary.LittleEndian.Uint32(data[offsetCid:]),
		Ctid:      decodeItemPointer(data[offsetCtid : offsetCtid+6]),
		Infomask2: InfoMask2(binary.LittleEndian.Uint16(data[offsetInfomask2:])),
		Infomask:  InfoMask(binary.LittleEndian.Uint16(data[offsetInfomask:])),
		Hoff:      data[offsetHoff],
	}

	h.NullmapByteSize = 1
	if h.Infomask.Has(HeapHasNull) {
		h.NullmapByteSize = NullmapSize(h.Infomask2.Natts())
		end := FixedHeaderSize + h.NullmapByteSize
		if len(data) < end {
			return Header{}, ErrBitmapTruncated
		}
		h.Nullmap = append([]byte(nil), data[FixedHeaderSize:end]...)
	}

	return h, nil
}

// Encode writes the 23 fixed header bytes followed by either the null
// bitmap (HEAP_HASNULL set) or a single zero padding byte.
func (h Header) Encode() []byte {
	buf := make([]byte, FixedHeaderSize, FixedHeaderSize+8)
	binary.LittleEndian.PutUint32(buf[offsetXmin:], h.Xmin)
	binary.LittleEndian.PutUint32(buf[offsetXmax:], h.Xmax)
	binary.LittleEndian.PutUint32(buf[offsetCid:], h.Cid)
	h.Ctid.encode(buf[offsetCtid : offsetCtid+6])
	binary.LittleEndian.PutUint16(buf[offsetInfomask2:], uint16(h.Infomask2))
	binary.LittleEndian.PutUint16(buf[offsetInfomask:], uint16(h.Infomask))
	buf[offsetHoff] = h.Hoff

	if h.Infomask.Has(HeapHasNull) {
		size := h.NullmapByteSize
		if size == 0 {
			size = NullmapSize(h.Infomask2.Natts())
		}
		bitmap := make([]byte, size)
		copy(bitmap, h.Nullmap)
		buf = append(buf, bitmap...)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

// EncodeTo returns the header's encoded bytes (header + bitmap/padding
// byte) zero-padded out to hoff total bytes, i.e. the on-disk prefix of
// a tuple up to the point its payload begins. hoff is raised to the
// unpadded encoded length if it is smaller than that.
func (h Header) EncodeTo(hoff int) []byte {
	base := h.Encode()
	if hoff < len(base) {
		hoff = len(base)
	}
	buf := make([]byte, hoff)
	copy(buf, base)
	return buf
}
