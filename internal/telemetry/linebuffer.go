// Package telemetry turns the raw byte streams from the car's two
// microcontrollers into typed events.
package telemetry

import (
	"bytes"
	"errors"
)

// ErrDecode is returned when a transport delivers bytes that are not ASCII.
// The buffer for that transport has been discarded when it is returned.
var ErrDecode = errors.New("telemetry: non-ASCII bytes on transport")

// LineBuffer accumulates bytes from one transport and splits them into
// newline-terminated lines, keeping any trailing partial line for the next
// Feed.
type LineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns every complete line, without the trailing
// newline. Empty lines are returned as empty strings.
func (b *LineBuffer) Feed(chunk []byte) ([]string, error) {
	for _, c := range chunk {
		if c > 0x7f {
			b.pending = b.pending[:0]
			return nil, ErrDecode
		}
	}
	b.pending = append(b.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.pending[:i]))
		b.pending = b.pending[i+1:]
	}

	// compact so the backing array does not grow without bound
	if len(b.pending) == 0 {
		b.pending = b.pending[:0:0]
	}
	return lines, nil
}

// Pending returns the unconsumed partial line.
func (b *LineBuffer) Pending() string {
	return string(b.pending)
}

// Reset discards the unconsumed partial line.
func (b *LineBuffer) Reset() {
	b.pending = nil
}
