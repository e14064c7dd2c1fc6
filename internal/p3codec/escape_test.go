package p3codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestNeedsEscape(t *testing.T) {
	for b := 0x8A; b <= 0x8F; b++ {
		if !NeedsEscape(byte(b)) {
			t.Errorf("NeedsEscape(0x%02X) = false, want true", b)
		}
	}
	for _, b := range []byte{0x00, 0x01, 0x89, 0x90, 0xFF} {
		if NeedsEscape(b) {
			t.Errorf("NeedsEscape(0x%02X) = true, want false", b)
		}
	}
}

func TestEscapeData(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no_escapes", []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03}},
		{"single", []byte{0x01, 0x8F, 0x02}, []byte{0x01, 0x8D, 0xAF, 0x02}},
		{"multiple", []byte{0x8E, 0x8F, 0x8D}, []byte{0x8D, 0xAE, 0x8D, 0xAF, 0x8D, 0xAD}},
		{"empty", []byte{}, []byte{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := EscapeData(c.in)
			if !bytes.Equal(got, c.want) {
				t.Errorf("EscapeData(%X) = %X, want %X", c.in, got, c.want)
			}
		})
	}
}

func TestEscapedLength(t *testing.T) {
	if got := EscapedLength([]byte{0x01, 0x02, 0x03}); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := EscapedLength([]byte{0x01, 0x8F, 0x02}); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
	if got := EscapedLength([]byte{0x8A, 0x8B, 0x8C}); got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

func TestUnescapeRoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0x8F, 0x03, 0x04, 0x8E, 0x05, 0x8A, 0x8B, 0x8C, 0x8D}
	escaped := EscapeData(data)
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == Escape {
			i++ // skip the escaped successor of this pair
			continue
		}
		if NeedsEscape(escaped[i]) {
			t.Fatalf("escaped output still contains unescaped control byte 0x%02X", escaped[i])
		}
	}

	unescaped, err := Unescape(escaped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(unescaped, data) {
		t.Errorf("round trip mismatch: got %X, want %X", unescaped, data)
	}
}

func TestUnescapeIncompleteAtEnd(t *testing.T) {
	_, err := Unescape([]byte{0x01, 0x8D})
	if !errors.Is(err, ErrIncompleteEscape) {
		t.Errorf("got %v, want ErrIncompleteEscape", err)
	}
}

func TestUnescapeInvalidSuccessor(t *testing.T) {
	_, err := Unescape([]byte{0x01, 0x8D, 0x50, 0x02})
	var invalid *InvalidEscapeError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v (%T), want *InvalidEscapeError", err, err)
	}
	if invalid.Next != 0x50 {
		t.Errorf("got next=0x%02X, want 0x50", invalid.Next)
	}
}
