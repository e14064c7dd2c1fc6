package p3codec

import "encoding/binary"

// TLVField is a single decoded tag-length-value field from a message body.
type TLVField struct {
	Tag   byte
	Value []byte
}

// DecodeTLV walks a message body, splitting it into TLV fields. Each field is
// [Tag: 1 byte][Length: 1 byte][Value: Length bytes].
func DecodeTLV(data []byte) ([]TLVField, error) {
	var fields []TLVField
	pos := 0

	for pos < len(data) {
		if pos+2 > len(data) {
			return nil, &IncompleteTlvError{Position: pos, Reason: "tag present without length"}
		}

		tag := data[pos]
		length := int(data[pos+1])
		pos += 2

		if pos+length > len(data) {
			return nil, &IncompleteTlvError{Position: pos, Reason: "declared value extent exceeds remaining body"}
		}

		value := make([]byte, length)
		copy(value, data[pos:pos+length])
		pos += length

		fields = append(fields, TLVField{Tag: tag, Value: value})
	}

	return fields, nil
}

// EncodeTLV serializes fields back into a message body. Used by the codec's
// TLV round-trip test; every value must be at most 255 bytes.
func EncodeTLV(fields []TLVField) []byte {
	out := make([]byte, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Tag, byte(len(f.Value)))
		out = append(out, f.Value...)
	}
	return out
}

// DecodeU16 interprets bytes as a little-endian uint16. It returns ok=false
// if bytes is not exactly 2 bytes long.
func DecodeU16(bytes []byte) (uint16, bool) {
	if len(bytes) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(bytes), true
}

// DecodeU32 interprets bytes as a little-endian uint32. It returns ok=false
// if bytes is not exactly 4 bytes long.
func DecodeU32(bytes []byte) (uint32, bool) {
	if len(bytes) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(bytes), true
}

// DecodeU64 interprets bytes as a little-endian uint64. It returns ok=false
// if bytes is not exactly 8 bytes long.
func DecodeU64(bytes []byte) (uint64, bool) {
	if len(bytes) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(bytes), true
}

// DecodeI16 interprets bytes as a little-endian int16. It returns ok=false
// if bytes has fewer than 2 bytes.
func DecodeI16(bytes []byte) (int16, bool) {
	if len(bytes) < 2 {
		return 0, false
	}
	return int16(binary.LittleEndian.Uint16(bytes[:2])), true
}
