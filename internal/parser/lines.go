package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode/utf8"
)

// lineReader reads newline-terminated lines of at most MaxLineBytes. Longer lines are
// cut at a rune boundary and their remainder is discarded, so one oversized record
// does not make the rest of the file unreadable.
type lineReader struct {
	r         *bufio.Reader
	line      []byte
	truncated int
	err       error
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next line. It returns false at end of input or on a read error.
func (l *lineReader) Next() bool {
	if l.err != nil {
		return false
	}
	l.line = l.line[:0]
	cut, read := false, false
	for {
		chunk, err := l.r.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		if !cut {
			if room := MaxLineBytes - len(l.line); len(chunk) > room {
				l.line = append(l.line, chunk[:runeCut(chunk, room)]...)
				cut = true
			} else {
				l.line = append(l.line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if cut {
				l.truncated++
			}
			return read
		case err != nil:
			l.err = err
			return false
		}
		if cut {
			l.truncated++
		}
		return true
	}
}

// Bytes returns the current line without its newline. It is valid until the next call to Next.
func (l *lineReader) Bytes() []byte { return l.line }

// Text returns the current line as a string.
func (l *lineReader) Text() string { return string(l.line) }

// Truncated is the number of lines cut to MaxLineBytes so far.
func (l *lineReader) Truncated() int { return l.truncated }

// Err returns the first non-EOF read error.
func (l *lineReader) Err() error { return l.err }

// runeCut returns the largest n' <= n that does not split a UTF-8 sequence in b.
func runeCut(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}
