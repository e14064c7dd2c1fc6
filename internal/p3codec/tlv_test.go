package p3codec

import "testing"

func TestDecodeTLVBasic(t *testing.T) {
	body := []byte{0x01, 0x02, 0x1B, 0x00, 0x81, 0x04, 0xFC, 0x05, 0x04, 0x00}
	fields, err := DecodeTLV(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Tag != 0x01 || len(fields[0].Value) != 2 {
		t.Errorf("field 0 = %+v", fields[0])
	}
	if fields[1].Tag != 0x81 || len(fields[1].Value) != 4 {
		t.Errorf("field 1 = %+v", fields[1])
	}
}

func TestDecodeTLVIncompleteTag(t *testing.T) {
	body := []byte{0x01}
	if _, err := DecodeTLV(body); err == nil {
		t.Error("expected error for truncated tag/length pair")
	}
}

func TestDecodeTLVIncompleteValue(t *testing.T) {
	body := []byte{0x01, 0x04, 0xAA, 0xBB}
	if _, err := DecodeTLV(body); err == nil {
		t.Error("expected error for value shorter than declared length")
	}
}

func TestEncodeDecodeTLVRoundTrip(t *testing.T) {
	fields := []TLVField{
		{Tag: 0x01, Value: []byte{0x1B, 0x00}},
		{Tag: 0x81, Value: []byte{0xFC, 0x05, 0x04, 0x00}},
	}
	encoded := EncodeTLV(fields)
	decoded, err := DecodeTLV(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(fields) {
		t.Fatalf("got %d fields, want %d", len(decoded), len(fields))
	}
	for i := range fields {
		if decoded[i].Tag != fields[i].Tag {
			t.Errorf("field %d tag = 0x%02X, want 0x%02X", i, decoded[i].Tag, fields[i].Tag)
		}
	}
}

func TestDecodeU32(t *testing.T) {
	got, ok := DecodeU32([]byte{0x12, 0x34, 0x56, 0x78})
	if !ok || got != 0x78563412 {
		t.Errorf("got %v (ok=%v), want 0x78563412", got, ok)
	}
}

func TestDecodeU16(t *testing.T) {
	got, ok := DecodeU16([]byte{0x12, 0x34})
	if !ok || got != 0x3412 {
		t.Errorf("got %v (ok=%v), want 0x3412", got, ok)
	}
}
