package p3message

import "fmt"

// MissingFieldError reports that a required TLV tag was absent from a
// message body.
type MissingFieldError struct {
	Field string
	Tag   byte
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("p3message: missing required field %s (tag 0x%02X)", e.Field, e.Tag)
}
