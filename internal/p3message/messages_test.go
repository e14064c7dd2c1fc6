package p3message

import (
	"testing"

	"github.com/bmxtiming/p3server/internal/p3codec"
)

func TestStatusFromFieldsLiveCapture(t *testing.T) {
	fields := []p3codec.TLVField{
		{Tag: 0x01, Value: []byte{0x3B, 0x00}}, // NOISE = 59
		{Tag: 0x07, Value: []byte{0x0A, 0x00}}, // TEMPERATURE = 10 (1.0C)
		{Tag: 0x06, Value: []byte{0x01}},       // GPS_STATUS = locked
		{Tag: 0x0A, Value: []byte{0x00}},       // SATINUSE = 0
		{Tag: 0x81, Value: []byte{0xD0, 0x00, 0x0C, 0x00}},
	}

	msg, err := StatusFromFields(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Noise != 59 {
		t.Errorf("noise = %d, want 59", msg.Noise)
	}
	if msg.Temperature != 10 {
		t.Errorf("temperature = %d, want 10", msg.Temperature)
	}
	if msg.GpsStatus != 1 {
		t.Errorf("gps_status = %d, want 1", msg.GpsStatus)
	}
	if msg.DecoderID == nil || *msg.DecoderID != "D0000C00" {
		t.Errorf("decoder_id = %v, want D0000C00 (wire order, not reinterpreted as LE integer)", msg.DecoderID)
	}
}

func TestStatusFromFieldsMissingRequired(t *testing.T) {
	fields := []p3codec.TLVField{
		{Tag: 0x01, Value: []byte{0x3B, 0x00}},
	}
	if _, err := StatusFromFields(fields); err == nil {
		t.Error("expected error for missing required fields")
	}
}

func TestStatusFromFieldsRejectsDeprecatedTagSet(t *testing.T) {
	// Community-documented tags 0x15/0x16/0x17/0x18 do not match real
	// decoders and must be silently ignored (unknown tags), not accepted as
	// NOISE/GPS_STATUS/TEMPERATURE/SATINUSE.
	fields := []p3codec.TLVField{
		{Tag: 0x15, Value: []byte{0xFF, 0xFF}},
		{Tag: 0x16, Value: []byte{0x01}},
		{Tag: 0x17, Value: []byte{0xFF, 0xFF}},
		{Tag: 0x18, Value: []byte{0x09}},
	}
	if _, err := StatusFromFields(fields); err == nil {
		t.Error("expected missing-field error: deprecated tags must not satisfy required fields")
	}
}

func TestPassingFromFieldsWithTransponderString(t *testing.T) {
	fields := []p3codec.TLVField{
		{Tag: TagPassingNumber, Value: []byte{0x99, 0x22, 0x00, 0x00}},
		{Tag: TagTransponder, Value: []byte{0x2A, 0xF7, 0x1F, 0x06}},
		{Tag: TagString, Value: []byte("FL-94890")},
		{Tag: TagStrength, Value: []byte{0x85, 0x00}},
		{Tag: TagHits, Value: []byte{0x1D, 0x00}},
		{Tag: TagRtcTime, Value: []byte{0x85, 0x01, 0xCA, 0x08, 0x66, 0x42, 0x06, 0x00}},
		{Tag: TagFlags, Value: []byte{0x00, 0x00}},
		{Tag: TagPassingDecoderID, Value: []byte{0xD0, 0x00, 0x0C, 0x00}},
	}

	msg, err := PassingFromFields(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TransponderString == nil || *msg.TransponderString != "FL-94890" {
		t.Errorf("transponder_string = %v, want FL-94890", msg.TransponderString)
	}
	if msg.DecoderID == nil || *msg.DecoderID != "D0000C00" {
		t.Errorf("decoder_id = %v, want D0000C00", msg.DecoderID)
	}
	if IsReservedTransponderID(msg.TransponderID) {
		t.Error("rider transponder should not be reserved")
	}
}

func TestPassingFromFieldsGateDrop(t *testing.T) {
	fields := []p3codec.TLVField{
		{Tag: TagPassingNumber, Value: []byte{0x9B, 0x22, 0x00, 0x00}},
		{Tag: TagTransponder, Value: []byte{0x0B, 0x27, 0x00, 0x00}}, // 9995
		{Tag: TagRtcTime, Value: []byte{0xE8, 0x34, 0xCF, 0x0A, 0x66, 0x42, 0x06, 0x00}},
		{Tag: TagFlags, Value: []byte{0x00, 0x00}},
	}
	msg, err := PassingFromFields(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsReservedTransponderID(msg.TransponderID) {
		t.Error("expected gate-drop transponder ID to be reserved")
	}
	if msg.TransponderID != GateDropOther {
		t.Errorf("transponder_id = %d, want %d", msg.TransponderID, GateDropOther)
	}
}

func TestIsReservedTransponderID(t *testing.T) {
	for _, id := range []uint32{9991, 9992, 9995} {
		if !IsReservedTransponderID(id) {
			t.Errorf("IsReservedTransponderID(%d) = false, want true", id)
		}
	}
	if IsReservedTransponderID(102758186) {
		t.Error("rider transponder from live capture should not be reserved")
	}
}
