// Package frame recovers discrete delimited messages from a chunked byte
// stream, such as NMEA sentences arriving over a serial line in arbitrary
// read-sized fragments.
package frame

import (
	"bytes"
	"io"
)

const (
	NMEAStart = '$'
)

var (
	NMEATerminator = []byte("\r\n")
	LineTerminator = []byte("\n")
)

// Extractor owns the pending buffer for one device connection. It is not
// safe for concurrent use.
//
// After every Feed the pending buffer holds at most one partial message,
// beginning at the start marker. Bytes before a start marker are noise and
// are dropped.
type Extractor struct {
	start    byte
	hasStart bool
	term     []byte
	pending  []byte
}

// NewNMEA returns an extractor for "$...\r\n" sentences.
func NewNMEA() *Extractor {
	return &Extractor{start: NMEAStart, hasStart: true, term: NMEATerminator}
}

// NewLines returns an extractor for terminator-delimited records that have
// no start marker. Every byte is part of some record.
func NewLines(term []byte) *Extractor {
	if len(term) == 0 {
		term = LineTerminator
	}
	return &Extractor{term: append([]byte(nil), term...)}
}

// Feed appends chunk to the pending buffer and returns every complete
// message now available, in stream order. Each message includes its start
// marker and terminator.
func (e *Extractor) Feed(chunk []byte) []string {
	e.pending = append(e.pending, chunk...)

	var out []string
	for {
		start := 0
		if e.hasStart {
			start = bytes.IndexByte(e.pending, e.start)
			if start < 0 {
				e.pending = e.pending[:0]
				break
			}
		} else if len(e.pending) == 0 {
			break
		}

		end := bytes.Index(e.pending[start:], e.term)
		if end < 0 {
			e.retainFrom(start)
			break
		}
		end += start + len(e.term)
		out = append(out, string(e.pending[start:end]))
		e.retainFrom(end)
	}
	return out
}

func (e *Extractor) retainFrom(i int) {
	if i == 0 {
		return
	}
	n := copy(e.pending, e.pending[i:])
	e.pending = e.pending[:n]
}

// Pending returns a copy of the bytes not yet resolved into a message.
func (e *Extractor) Pending() []byte {
	return append([]byte(nil), e.pending...)
}

// Reset drops any partial message, e.g. after the device was reopened.
func (e *Extractor) Reset() {
	e.pending = e.pending[:0]
}

// ReadFrom performs exactly one Read from r into buf and feeds what was
// read. A read error is returned as is, together with any messages
// completed by bytes that came with it; callers must consume both. A
// zero-length read yields no messages.
func (e *Extractor) ReadFrom(r io.Reader, buf []byte) ([]string, error) {
	n, err := r.Read(buf)
	var out []string
	if n > 0 {
		out = e.Feed(buf[:n])
	}
	return out, err
}
