// Package p3stream accumulates bytes read from a decoder's TCP stream and
// yields complete P3 frames, handling escape-aware framing: the header's
// LENGTH field counts unescaped bytes while the wire may interleave escape
// sequences anywhere in that span.
package p3stream

import (
	"bytes"
	"encoding/binary"

	"github.com/bmxtiming/p3server/internal/p3codec"
)

// FrameResult pairs a parsed frame with any per-frame parse error. The
// framer surfaces parse errors per frame rather than resyncing by discarding
// bytes — the frame boundary is trusted from the LENGTH field regardless of
// what's inside it.
type FrameResult struct {
	Frame *p3codec.Frame
	Err   error
}

// Framer accumulates raw bytes and extracts complete P3 frames from them.
type Framer struct {
	buffer []byte
}

// NewFramer returns a Framer with an empty accumulator.
func NewFramer() *Framer {
	return &Framer{buffer: make([]byte, 0, 4096)}
}

// Feed appends data to the accumulator and parses every complete frame now
// available, in order. Trailing partial frame bytes remain buffered for the
// next call.
func (f *Framer) Feed(data []byte) []FrameResult {
	f.buffer = append(f.buffer, data...)

	var results []FrameResult
	for {
		end, ok := findCompleteMessage(f.buffer)
		if !ok {
			break
		}

		// Bytes ahead of the SOR belong to no frame; they are drained with it.
		start := bytes.IndexByte(f.buffer, p3codec.SOR)
		messageData := f.buffer[start:end]
		frame, err := p3codec.ParseFrame(messageData)
		results = append(results, FrameResult{Frame: frame, Err: err})

		f.buffer = f.buffer[end:]
	}
	return results
}

// calculateEscapedMessageEnd walks buffer starting at startPos, counting each
// non-escape byte as one unescaped byte and each (Escape, successor) pair as
// one unescaped byte while consuming two wire bytes, until unescapedLength
// unescaped bytes have been consumed. Returns false if the buffer runs out
// mid-walk, including an escape byte with no successor yet buffered.
func calculateEscapedMessageEnd(buffer []byte, startPos int, unescapedLength int) (int, bool) {
	bufferPos := startPos
	unescapedCount := 0

	for unescapedCount < unescapedLength {
		if bufferPos >= len(buffer) {
			return 0, false
		}

		if buffer[bufferPos] == p3codec.Escape {
			if bufferPos+1 >= len(buffer) {
				return 0, false
			}
			bufferPos += 2
			unescapedCount++
		} else {
			bufferPos++
			unescapedCount++
		}
	}

	return bufferPos, true
}

// findCompleteMessage finds the end position (exclusive) of the next
// complete wire frame in buffer, if one is fully buffered.
func findCompleteMessage(buffer []byte) (int, bool) {
	sorPos := -1
	for i, b := range buffer {
		if b == p3codec.SOR {
			sorPos = i
			break
		}
	}
	if sorPos < 0 {
		return 0, false
	}

	if len(buffer) < sorPos+4 {
		return 0, false
	}

	lengthBytes := buffer[sorPos+2 : sorPos+4]
	unescapedLength := int(binary.LittleEndian.Uint16(lengthBytes))

	return calculateEscapedMessageEnd(buffer, sorPos, unescapedLength)
}
