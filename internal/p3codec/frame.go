package p3codec

import "encoding/binary"

// Frame is a fully decoded P3 wire frame: header type plus body TLV fields.
type Frame struct {
	Type   MessageType
	Fields []TLVField
}

// ParseFrame decodes a complete escaped wire frame (as produced by the
// stream framer in internal/p3stream, starting at SOR and ending at EOR) into
// its message type and TLV fields. It validates, in order: escape well-
// formedness, minimum size, SOR/EOR placement, the LENGTH header field
// against the actual unescaped length, the CRC, and the TYPE header field.
func ParseFrame(escaped []byte) (*Frame, error) {
	unescaped, err := Unescape(escaped)
	if err != nil {
		return nil, err
	}

	if len(unescaped) < MinFrameSize {
		return nil, ErrMessageTooShort
	}

	if unescaped[OffsetSOR] != SOR {
		return nil, ErrMissingSor
	}

	if unescaped[len(unescaped)-1] != EOR {
		return nil, ErrMissingEor
	}

	length := binary.LittleEndian.Uint16(unescaped[OffsetLength : OffsetLength+2])
	if int(length) != len(unescaped) {
		return nil, ErrLengthMismatch
	}

	ok, err := ValidateCRC(escaped)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCrcMismatch
	}

	rawType := binary.LittleEndian.Uint16(unescaped[OffsetType : OffsetType+2])
	msgType, err := ParseMessageType(rawType)
	if err != nil {
		return nil, err
	}

	body := unescaped[OffsetBody : len(unescaped)-1]
	fields, err := DecodeTLV(body)
	if err != nil {
		return nil, err
	}

	return &Frame{Type: msgType, Fields: fields}, nil
}
