package relay

import (
	"bytes"
	"strings"
)

// DefaultMaxLineSize bounds how much of one unterminated line is buffered.
const DefaultMaxLineSize = 16 * 1024 * 1024

// lineSplitter turns arbitrary chunks into complete lines. Bytes after the
// last newline stay buffered, so lines and multi-byte characters split
// across chunk boundaries come out whole. A line growing past max is
// discarded up to its newline; max <= 0 disables the limit.
type lineSplitter struct {
	buf        bytes.Buffer
	max        int
	discarding bool
	dropped    int
}

func (l *lineSplitter) Feed(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		if l.discarding {
			idx := bytes.IndexByte(chunk, '\n')
			if idx < 0 {
				return lines
			}
			chunk = chunk[idx+1:]
			l.discarding = false
			continue
		}

		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			l.buf.Write(chunk)
			break
		}
		l.buf.Write(chunk[:idx])
		chunk = chunk[idx+1:]
		if l.overLimit() {
			l.drop()
			continue
		}
		lines = append(lines, decodeLine(l.buf.Bytes()))
		l.buf.Reset()
	}

	if l.overLimit() {
		l.drop()
		l.discarding = true
	}
	return lines
}

// Flush returns whatever is left once the stream has ended.
func (l *lineSplitter) Flush() (string, bool) {
	if l.buf.Len() == 0 {
		return "", false
	}
	line := decodeLine(l.buf.Bytes())
	l.buf.Reset()
	return line, true
}

func (l *lineSplitter) overLimit() bool {
	return l.max > 0 && l.buf.Len() > l.max
}

func (l *lineSplitter) drop() {
	l.buf.Reset()
	l.dropped++
}

func decodeLine(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
