package relay

import "bytes"

// lineBuffer reassembles complete lines from arbitrarily chunked reads.
// Chunk boundaries may fall anywhere relative to line terminators.
type lineBuffer struct {
	pending []byte
}

// Feed appends a chunk and returns the complete lines it finished. The
// terminator is '\n'; an immediately preceding '\r' is stripped. Any
// trailing fragment is retained for the next Feed.
func (b *lineBuffer) Feed(chunk []byte) []string {
	var lines []string
	b.pending = append(b.pending, chunk...)
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			return lines
		}
		end := i
		if end > 0 && b.pending[end-1] == '\r' {
			end--
		}
		lines = append(lines, string(b.pending[:end]))
		b.pending = b.pending[i+1:]
	}
}

// Flush returns any unterminated trailing data, for stream EOF.
func (b *lineBuffer) Flush() (string, bool) {
	if len(b.pending) == 0 {
		return "", false
	}
	s := string(b.pending)
	b.pending = nil
	return s, true
}
