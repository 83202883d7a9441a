package logsink

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"telemux/internal/sensor"
)

// Reader parses a log produced by Sink. Columns are located by header name,
// so logs whose header carries extra columns still read.
type Reader struct {
	cr  *csv.Reader
	idx map[string]int
	row int
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{cr: cr}
}

// Next returns the next record, or io.EOF after the last one.
func (rr *Reader) Next() (Record, error) {
	if rr.idx == nil {
		if err := rr.readHeader(); err != nil {
			return Record{}, err
		}
	}
	for {
		fields, err := rr.cr.Read()
		if err != nil {
			return Record{}, err
		}
		rr.row++
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rec, err := rr.parse(fields)
		if err != nil {
			return Record{}, fmt.Errorf("log row %d: %w", rr.row, err)
		}
		return rec, nil
	}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	recs := make([]Record, 0, 1024)
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func (rr *Reader) readHeader() error {
	fields, err := rr.cr.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("log is empty")
	}
	if err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[strings.TrimSpace(f)] = i
	}
	for _, name := range header {
		if _, ok := idx[name]; !ok {
			return fmt.Errorf("log header missing column %q", name)
		}
	}
	rr.idx = idx
	return nil
}

func (rr *Reader) get(fields []string, name string) string {
	i := rr.idx[name]
	if i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (rr *Reader) parse(fields []string) (Record, error) {
	tsStr := rr.get(fields, ColTimestamp)
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", tsStr, err)
	}
	rec := Record{At: time.Unix(0, ts)}

	kind := Kind(rr.get(fields, ColLogType))
	switch kind {
	case KindNMEA:
		rec.Entry = Sentence{Text: rr.get(fields, "sentence")}
	case KindRTCM:
		c, err := rr.parseCorrection(fields)
		if err != nil {
			return Record{}, err
		}
		rec.Entry = c
	case KindSensor:
		vals := make([]string, 0, len(sensor.Columns))
		for _, name := range sensor.Columns {
			vals = append(vals, rr.get(fields, name))
		}
		s, err := sensor.Parse(strings.Join(vals, ","))
		if err != nil {
			return Record{}, err
		}
		rec.Entry = Reading{Sample: s}
	default:
		return Record{}, fmt.Errorf("unknown log_type %q", kind)
	}
	return rec, nil
}

func (rr *Reader) parseCorrection(fields []string) (Correction, error) {
	var c Correction
	if mt := rr.get(fields, "message_type"); mt != "" {
		v, err := strconv.ParseUint(mt, 10, 16)
		if err != nil {
			return c, fmt.Errorf("invalid message_type %q: %w", mt, err)
		}
		c.MessageType = uint16(v)
		c.HasType = true
	}
	data, err := hex.DecodeString(rr.get(fields, "data_hex"))
	if err != nil {
		return c, fmt.Errorf("invalid data_hex: %w", err)
	}
	c.Data = data
	c.Length = len(data)
	if l := rr.get(fields, "data_length"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return c, fmt.Errorf("invalid data_length %q: %w", l, err)
		}
		if n != len(data) {
			return c, fmt.Errorf("data_length=%d but data_hex holds %d bytes", n, len(data))
		}
	}
	return c, nil
}
