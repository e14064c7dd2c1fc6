package p3codec

import (
	"errors"
	"fmt"
)

// Sentinel errors for branch-by-identity handling with errors.Is, mirroring
// the original protocol crate's thiserror-derived enum variants.
var (
	ErrIncompleteEscape = errors.New("p3codec: incomplete escape sequence at end of data")
	ErrMessageTooShort  = errors.New("p3codec: message too short to contain a CRC field")
	ErrMissingSor       = errors.New("p3codec: no start-of-record byte found")
	ErrMissingEor       = errors.New("p3codec: end-of-record byte is not the last byte of the frame")
	ErrLengthMismatch   = errors.New("p3codec: header LENGTH does not match unescaped frame length")
	ErrCrcMismatch      = errors.New("p3codec: CRC validation failed")
)

// InvalidEscapeError reports an escape byte followed by an out-of-range
// successor (errors.As-compatible struct, carrying the offending byte).
type InvalidEscapeError struct {
	Next byte
}

func (e *InvalidEscapeError) Error() string {
	return fmt.Sprintf("p3codec: invalid escape sequence: 0x8D followed by 0x%02X", e.Next)
}

// MalformedEscapeError reports the same condition with position context, used
// by CRC validation which walks the whole frame rather than a single field.
type MalformedEscapeError struct {
	Position int
	Next     byte
}

func (e *MalformedEscapeError) Error() string {
	return fmt.Sprintf("p3codec: malformed escape sequence at position %d: 0x8D followed by 0x%02X", e.Position, e.Next)
}

// IncompleteTlvError reports a truncated TLV field.
type IncompleteTlvError struct {
	Position int
	Reason   string
}

func (e *IncompleteTlvError) Error() string {
	return fmt.Sprintf("p3codec: incomplete TLV field at position %d: %s", e.Position, e.Reason)
}

// UnknownMessageTypeError reports a TYPE header value this revision does not
// recognize.
type UnknownMessageTypeError struct {
	Raw uint16
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("p3codec: unknown message type 0x%04X", e.Raw)
}
