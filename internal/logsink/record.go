package logsink

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"telemux/internal/ntrip"
	"telemux/internal/sensor"
)

type Kind string

const (
	KindNMEA   Kind = "NMEA"
	KindRTCM   Kind = "RTCM"
	KindSensor Kind = "SENSOR"
)

// Entry is one of Sentence, Correction or Reading.
type Entry interface {
	Kind() Kind
	values() []string
}

// Sentence is one NMEA sentence as received, without its line terminator.
type Sentence struct {
	Text string
}

// Correction describes one chunk read from the correction stream.
type Correction struct {
	MessageType uint16
	HasType     bool
	Length      int
	Data        []byte
}

// Reading is one sample from the sensor board.
type Reading struct {
	sensor.Sample
}

func (Sentence) Kind() Kind   { return KindNMEA }
func (Correction) Kind() Kind { return KindRTCM }
func (Reading) Kind() Kind    { return KindSensor }

func (s Sentence) values() []string { return []string{s.Text} }

func (c Correction) values() []string {
	mt := ""
	if c.HasType {
		mt = strconv.FormatUint(uint64(c.MessageType), 10)
	}
	return []string{mt, strconv.Itoa(c.Length), hex.EncodeToString(c.Data)}
}

func (r Reading) values() []string { return r.Sample.Fields() }

// NewSentence trims the line terminator and surrounding whitespace.
func NewSentence(raw string) Sentence {
	return Sentence{Text: strings.TrimSpace(raw)}
}

// NewCorrection tags chunk with its RTCM message type when one is visible.
func NewCorrection(chunk []byte) Correction {
	mt, ok := ntrip.MessageType(chunk)
	return Correction{MessageType: mt, HasType: ok, Length: len(chunk), Data: chunk}
}

// Record is a timestamped entry. At is assigned when the record is handed
// to the sink, not when the underlying bytes were read.
type Record struct {
	At    time.Time
	Entry Entry
}

const (
	ColTimestamp = "timestamp_ns"
	ColLogType   = "log_type"
)

var (
	sentenceColumns   = []string{"sentence"}
	correctionColumns = []string{"message_type", "data_length", "data_hex"}
)

// columnsFor is the static column list of each variant, in header order.
var columnsFor = map[Kind][]string{
	KindNMEA:   sentenceColumns,
	KindRTCM:   correctionColumns,
	KindSensor: sensor.Columns,
}

var kindOrder = []Kind{KindNMEA, KindRTCM, KindSensor}

var (
	header  []string
	offsets = map[Kind]int{}
)

func init() {
	header = []string{ColTimestamp, ColLogType}
	for _, k := range kindOrder {
		offsets[k] = len(header)
		header = append(header, columnsFor[k]...)
	}
}

// Columns returns the header row shared by every record type.
func Columns() []string {
	return append([]string(nil), header...)
}

// ColumnsFor returns the columns populated by records of kind k.
func ColumnsFor(k Kind) []string {
	return append([]string(nil), columnsFor[k]...)
}

// Row renders rec across the full header width. Only the columns that belong
// to the record's kind are filled; all others stay empty.
func Row(rec Record) []string {
	row := make([]string, len(header))
	row[0] = strconv.FormatInt(rec.At.UnixNano(), 10)
	if rec.Entry == nil {
		return row
	}
	k := rec.Entry.Kind()
	row[1] = string(k)
	copy(row[offsets[k]:offsets[k]+len(columnsFor[k])], rec.Entry.values())
	return row
}
