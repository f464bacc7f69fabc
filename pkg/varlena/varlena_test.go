package varlena

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte("Test"),
		bytes.Repeat([]byte("x"), 125),
		bytes.Repeat([]byte("y"), 126),
		bytes.Repeat([]byte("z"), 500),
	}

	for _, payload := range cases {
		enc, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode(%d bytes): %v", len(payload), err)
		}

		v, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode after Encode(%d bytes): %v", len(payload), err)
		}

		if !bytes.Equal(v.Value, payload) {
			t.Errorf("round trip mismatch: got %q, want %q", v.Value, payload)
		}
		if v.Size != len(enc) {
			t.Errorf("Size = %d, want %d", v.Size, len(enc))
		}
	}
}

func TestEncodeChoosesOneByteHeader(t *testing.T) {
	payload := []byte("xyz")
	enc, err := Encode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 4 {
		t.Fatalf("len(enc) = %d, want 4", len(enc))
	}
	if enc[0]&0x01 != 0x01 {
		t.Fatalf("expected low bit set for 1-byte header, got %08b", enc[0])
	}
	if enc[0] == 0x01 {
		t.Fatalf("header collides with external-pointer marker")
	}
}

func TestEncodeChoosesFourByteHeader(t *testing.T) {
	payload := bytes.Repeat([]byte("q"), 200)
	enc, err := Encode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 204 {
		t.Fatalf("len(enc) = %d, want 204", len(enc))
	}
	if enc[0]&0x03 != 0x00 {
		t.Fatalf("expected low 2 bits clear for 4-byte header, got %08b", enc[0])
	}
}

func TestDecodeRejectsExternal(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02, 0x03}); err != ErrUnsupportedVarlenaKind {
		t.Fatalf("got %v, want ErrUnsupportedVarlenaKind", err)
	}
}

func TestDecodeRejectsCompressed(t *testing.T) {
	// low 2 bits == 10 marks a compressed 4-byte varlena.
	if _, err := Decode([]byte{0x02, 0x00, 0x00, 0x00}); err != ErrUnsupportedVarlenaKind {
		t.Fatalf("got %v, want ErrUnsupportedVarlenaKind", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := Decode(nil); err != ErrInvalidVarlenaHeader {
		t.Fatalf("got %v, want ErrInvalidVarlenaHeader", err)
	}
	if _, err := Decode([]byte{0x00, 0x00}); err != ErrInvalidVarlenaHeader {
		t.Fatalf("got %v, want ErrInvalidVarlenaHeader", err)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	// Exercise the size-limit guard at its boundary: the largest payload
	// whose encoded 4-byte total fits the 30-bit field, and one byte more.
	huge := make([]byte, maxFourByteTotal-4) // +4 header == maxFourByteTotal, ok
	if _, err := Encode(huge); err != nil {
		t.Fatalf("boundary-sized payload should encode: %v", err)
	}

	tooHuge := make([]byte, maxFourByteTotal-3) // +4 header overflows
	if _, err := Encode(tooHuge); err != ErrTooLarge {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}
