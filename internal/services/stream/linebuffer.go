package stream

import "bytes"

// LineBuffer splits a byte stream into '\n'-terminated lines, holding back
// the incomplete tail until the next chunk.
type LineBuffer struct {
	pending []byte
	lines   []string
}

// Append adds chunk and returns every line completed so far, without the
// newline. The returned slice is reused by the next call.
func (b *LineBuffer) Append(chunk []byte) []string {
	b.pending = append(b.pending, chunk...)
	b.lines = b.lines[:0]

	start := 0
	for {
		i := bytes.IndexByte(b.pending[start:], '\n')
		if i < 0 {
			break
		}
		b.lines = append(b.lines, string(b.pending[start:start+i]))
		start += i + 1
	}

	if start > 0 {
		b.pending = append(b.pending[:0], b.pending[start:]...)
	}
	return b.lines
}

// Flush returns the unterminated tail, if any, and clears it.
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.pending) == 0 {
		return "", false
	}
	tail := string(b.pending)
	b.pending = b.pending[:0]
	return tail, true
}

// Reset clears all state so the buffer can be pooled.
func (b *LineBuffer) Reset() {
	b.pending = b.pending[:0]
	b.lines = b.lines[:0]
}
