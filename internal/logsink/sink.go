// Package logsink serializes heterogeneous telemetry records from any number
// of producers into one append-only CSV stream.
//
// Log format: one header row naming every column of every record type,
// then one row per record. Each row carries a nanosecond Unix timestamp and
// a log_type tag, fills the columns of its own type and leaves the rest
// empty. A single writer goroutine owns the file and flushes after every
// row.
package logsink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tevino/abool/v2"

	"telemux/internal/monitoring"
	"telemux/internal/queue"
	"telemux/internal/sensor"
)

type Sink struct {
	q      *queue.Queue[Record]
	out    io.Writer
	w      *csv.Writer
	closer io.Closer
	now    func() time.Time

	degraded *abool.AtomicBool
	written  atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64

	closed atomic.Bool
	done   chan struct{}
}

type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}

// Open appends to the log at path, creating it if needed. The header row
// is written only when the file is empty.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}
	s, err := start(f, f, st.Size() == 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write log header %s: %w", path, err)
	}
	return s, nil
}

// New starts a sink writing to w, beginning with the header row.
func New(w io.Writer) (*Sink, error) {
	return start(w, nil, true)
}

func start(w io.Writer, closer io.Closer, writeHeader bool) (*Sink, error) {
	s := &Sink{
		q:        queue.New[Record](),
		out:      w,
		w:        csv.NewWriter(w),
		closer:   closer,
		now:      time.Now,
		degraded: abool.New(),
		done:     make(chan struct{}),
	}
	if writeHeader {
		if err := s.w.Write(header); err != nil {
			return nil, err
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			return nil, err
		}
	}
	go s.run()
	return s, nil
}

// Logger returns a producer handle. Handles are cheap values and may be
// shared by any number of goroutines.
func (s *Sink) Logger() Logger {
	return Logger{sink: s}
}

// Close stops accepting records, waits until every accepted record has been
// written and closes the underlying file.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	s.q.Close()
	<-s.done
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Sink) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Pending: s.q.Len(),
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		rec, ok := s.q.Pop()
		if !ok {
			return
		}
		if err := s.write(rec); err != nil {
			// csv.Writer errors are sticky; start over on a fresh one.
			s.w = csv.NewWriter(s.out)
			s.failed.Add(1)
			if s.degraded.SetToIf(false, true) {
				monitoring.Logf("log write failed: %v", err)
			}
			continue
		}
		if s.degraded.SetToIf(true, false) {
			monitoring.Logf("log writes recovered")
		}
		s.written.Add(1)
	}
}

func (s *Sink) write(rec Record) error {
	if err := s.w.Write(Row(rec)); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *Sink) submit(e Entry) {
	if err := s.q.Push(Record{At: s.now(), Entry: e}); err != nil {
		// Logging is best-effort once the sink is gone.
		s.dropped.Add(1)
		if !errors.Is(err, queue.ErrClosed) {
			monitoring.Logf("log submit failed: %v", err)
		}
	}
}

// Logger is the producer side of a Sink. It never blocks and never fails:
// once the sink is closed, records are counted as dropped.
type Logger struct {
	sink *Sink
}

func (l Logger) LogSentence(raw string) {
	if l.sink == nil {
		return
	}
	l.sink.submit(NewSentence(raw))
}

// LogCorrection takes ownership of chunk.
func (l Logger) LogCorrection(chunk []byte) {
	if l.sink == nil {
		return
	}
	l.sink.submit(NewCorrection(chunk))
}

func (l Logger) LogSample(s sensor.Sample) {
	if l.sink == nil {
		return
	}
	l.sink.submit(Reading{Sample: s})
}
