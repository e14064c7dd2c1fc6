package p3stream

import "testing"

var statusFixture = []byte{
	0x8E, 0x02, 0x1F, 0x00, 0x3D, 0x27, 0x00, 0x00, 0x02, 0x00,
	0x01, 0x02, 0x1B, 0x00,
	0x07, 0x02, 0x21, 0x00,
	0x0C, 0x01, 0x7A,
	0x06, 0x01, 0x00,
	0x81, 0x04, 0xFC, 0x05, 0x04, 0x00,
	0x8F,
}

func TestFeedSingleFrame(t *testing.T) {
	f := NewFramer()
	results := f.Feed(statusFixture)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
}

func TestFeedAcrossMultipleCalls(t *testing.T) {
	f := NewFramer()
	mid := len(statusFixture) / 2

	if results := f.Feed(statusFixture[:mid]); len(results) != 0 {
		t.Fatalf("got %d results before frame complete, want 0", len(results))
	}

	results := f.Feed(statusFixture[mid:])
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
}

func TestFeedTwoFramesBackToBack(t *testing.T) {
	f := NewFramer()
	data := append(append([]byte{}, statusFixture...), statusFixture...)
	results := f.Feed(data)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("frame %d: unexpected error: %v", i, r.Err)
		}
	}
}

// S3 Gate-drop timestamp crosses escape boundary: any wire frame whose
// LENGTH is L and which contains one escape sequence yields a framer end
// position of L+1 wire bytes consumed (not L) — a regression guard against a
// naive start+L computation that ignores escape expansion.
func TestCalculateEscapedMessageEndCrossesEscapeBoundary(t *testing.T) {
	passingWithEscape := []byte{
		0x8E, 0x02, 0x33, 0x00, 0xEB, 0x1D, 0x00, 0x00, 0x01, 0x00,
		0x01, 0x04, 0x9D, 0x09, 0x00, 0x00,
		0x03, 0x04, 0xE4, 0xD2, 0x36, 0x00,
		0x04, 0x08, 0x10, 0x79, 0x8D, 0xAF, 0xE4, 0xF2, 0xCE, 0x04, 0x00,
		0x05, 0x02, 0x5F, 0x00,
		0x06, 0x02, 0x2E, 0x00,
		0x08, 0x02, 0x00, 0x00,
		0x81, 0x04, 0xBE, 0x13, 0x04, 0x00,
		0x8F,
	}

	const unescapedLength = 0x33 // LENGTH header field, L

	end, ok := calculateEscapedMessageEnd(passingWithEscape, 0, unescapedLength)
	if !ok {
		t.Fatal("expected calculateEscapedMessageEnd to find the frame end")
	}

	if end != len(passingWithEscape) {
		t.Errorf("end = %d, want %d (wire length, L+1 wire bytes consumed for the one escape pair)", end, len(passingWithEscape))
	}
	if end == unescapedLength {
		t.Error("end must not equal naive start+L: the embedded escape sequence adds one wire byte")
	}
}

func TestFeedIncompleteTrailingEscapeWaitsForMoreBytes(t *testing.T) {
	f := NewFramer()
	// SOR + VERSION + LENGTH(=5) + a lone escape byte with no successor yet:
	// the walk reaches the escape byte as its 5th unescaped byte and must
	// wait rather than treat it as complete.
	partial := []byte{0x8E, 0x02, 0x05, 0x00, 0x8D}
	results := f.Feed(partial)
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0 while escape successor is unbuffered", len(results))
	}
}
