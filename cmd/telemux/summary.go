package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/spf13/pflag"

	"telemux/internal/gps"
	"telemux/internal/logsink"
)

type logSummary struct {
	Records int
	First   time.Time
	Last    time.Time
	Span    time.Duration

	Kinds map[logsink.Kind]int

	SentenceTypes    map[string]int
	InvalidSentences int
	FixQuality       map[string]int

	CorrectionTypes map[uint16]int
	Untyped         int
	CorrectionBytes int
}

func summarizeLog(records []logsink.Record) logSummary {
	s := logSummary{
		Kinds:           map[logsink.Kind]int{},
		SentenceTypes:   map[string]int{},
		FixQuality:      map[string]int{},
		CorrectionTypes: map[uint16]int{},
	}
	for _, r := range records {
		s.Records++
		if s.First.IsZero() || r.At.Before(s.First) {
			s.First = r.At
		}
		if r.At.After(s.Last) {
			s.Last = r.At
		}
		if r.Entry == nil {
			continue
		}
		s.Kinds[r.Entry.Kind()]++

		switch e := r.Entry.(type) {
		case logsink.Sentence:
			m, err := nmea.Parse(e.Text)
			if err != nil {
				s.InvalidSentences++
				continue
			}
			s.SentenceTypes[m.DataType()]++
			if gga, ok := m.(nmea.GGA); ok {
				s.FixQuality[gps.QualityName(gga.FixQuality)]++
			}
		case logsink.Correction:
			s.CorrectionBytes += e.Length
			if e.HasType {
				s.CorrectionTypes[e.MessageType]++
			} else {
				s.Untyped++
			}
		}
	}
	if s.Records > 0 {
		s.Span = s.Last.Sub(s.First)
	}
	return s
}

func printLogSummary(w io.Writer, path string, s logSummary) {
	fmt.Fprintf(w, "log: %s\n", path)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	if s.Records == 0 {
		return
	}
	fmt.Fprintf(w, "first: %s\n", s.First.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "last: %s\n", s.Last.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "span: %s\n", s.Span)

	for _, k := range []logsink.Kind{logsink.KindNMEA, logsink.KindRTCM, logsink.KindSensor} {
		fmt.Fprintf(w, "%s: %d\n", strings.ToLower(string(k)), s.Kinds[k])
	}

	if len(s.SentenceTypes) > 0 || s.InvalidSentences > 0 {
		fmt.Fprintln(w, "nmea types:")
		for _, name := range sortedKeys(s.SentenceTypes) {
			fmt.Fprintf(w, "  %s: %d\n", name, s.SentenceTypes[name])
		}
		if s.InvalidSentences > 0 {
			fmt.Fprintf(w, "  invalid: %d\n", s.InvalidSentences)
		}
	}
	if len(s.FixQuality) > 0 {
		fmt.Fprintln(w, "gga fix quality:")
		for _, name := range sortedKeys(s.FixQuality) {
			fmt.Fprintf(w, "  %s: %d\n", name, s.FixQuality[name])
		}
	}
	if s.Kinds[logsink.KindRTCM] > 0 {
		fmt.Fprintf(w, "rtcm bytes: %d\n", s.CorrectionBytes)
		fmt.Fprintln(w, "rtcm message types:")
		types := make([]int, 0, len(s.CorrectionTypes))
		for mt := range s.CorrectionTypes {
			types = append(types, int(mt))
		}
		sort.Ints(types)
		for _, mt := range types {
			fmt.Fprintf(w, "  %d: %d\n", mt, s.CorrectionTypes[uint16(mt)])
		}
		if s.Untyped > 0 {
			fmt.Fprintf(w, "  untyped: %d\n", s.Untyped)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readLog(path string) ([]logsink.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return logsink.NewReader(f).ReadAll()
}

func runSummary(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("summary", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: telemux summary <log.csv>")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("summary needs exactly one log path")
	}
	path := fs.Arg(0)
	records, err := readLog(path)
	if err != nil {
		return fmt.Errorf("read log failed: %w", err)
	}
	printLogSummary(stdout, path, summarizeLog(records))
	return nil
}
