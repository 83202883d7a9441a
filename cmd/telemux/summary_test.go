package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telemux/internal/logsink"
	"telemux/internal/sensor"
)

const (
	ggaRTK = "$GPGGA,123519,4807.038,N,01131.000,E,4,08,0.9,545.4,M,46.9,M,,*42"
	ggaGPS = "$GPGGA,123520,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*4D"
	rmc    = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
)

func sampleRecords() []logsink.Record {
	t0 := time.Unix(1700000000, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }
	return []logsink.Record{
		{At: at(0), Entry: logsink.NewSentence(ggaRTK)},
		{At: at(100), Entry: logsink.NewSentence(rmc)},
		{At: at(200), Entry: logsink.NewCorrection([]byte{0xD3, 0x00, 0x13, 0x3E, 0xD0})},
		{At: at(300), Entry: logsink.NewCorrection([]byte{0x01, 0x02})},
		{At: at(400), Entry: logsink.Reading{Sample: sensor.Sample{TimeMs: 1000}}},
		{At: at(500), Entry: logsink.NewSentence(ggaGPS)},
		{At: at(1500), Entry: logsink.NewSentence("$GPGGA,garbage*00")},
	}
}

func TestSummarizeLog_CountsKindsAndTypes(t *testing.T) {
	s := summarizeLog(sampleRecords())

	if s.Records != 7 {
		t.Fatalf("Records=%d want 7", s.Records)
	}
	if s.Span != 1500*time.Millisecond {
		t.Fatalf("Span=%s want 1.5s", s.Span)
	}
	if s.Kinds[logsink.KindNMEA] != 4 || s.Kinds[logsink.KindRTCM] != 2 || s.Kinds[logsink.KindSensor] != 1 {
		t.Fatalf("Kinds=%v", s.Kinds)
	}
	if s.SentenceTypes["GGA"] != 2 || s.SentenceTypes["RMC"] != 1 {
		t.Fatalf("SentenceTypes=%v", s.SentenceTypes)
	}
	if s.InvalidSentences != 1 {
		t.Fatalf("InvalidSentences=%d want 1", s.InvalidSentences)
	}
	if s.FixQuality["rtk"] != 1 || s.FixQuality["gps"] != 1 {
		t.Fatalf("FixQuality=%v", s.FixQuality)
	}
	if s.CorrectionTypes[4] != 1 || s.Untyped != 1 {
		t.Fatalf("CorrectionTypes=%v Untyped=%d", s.CorrectionTypes, s.Untyped)
	}
	if s.CorrectionBytes != 7 {
		t.Fatalf("CorrectionBytes=%d want 7", s.CorrectionBytes)
	}
}

func TestSummarizeLog_Empty(t *testing.T) {
	s := summarizeLog(nil)
	if s.Records != 0 || s.Span != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	var buf bytes.Buffer
	printLogSummary(&buf, "empty.csv", s)
	if got := buf.String(); got != "log: empty.csv\nrecords: 0\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintLogSummary(t *testing.T) {
	var buf bytes.Buffer
	printLogSummary(&buf, "x.csv", summarizeLog(sampleRecords()))
	out := buf.String()
	for _, want := range []string{
		"records: 7\n",
		"span: 1.5s\n",
		"nmea: 4\n",
		"rtcm: 2\n",
		"sensor: 1\n",
		"  GGA: 2\n",
		"  invalid: 1\n",
		"  rtk: 1\n",
		"rtcm bytes: 7\n",
		"  4: 1\n",
		"  untyped: 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func writeLog(t *testing.T, records []logsink.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(logsink.Columns()); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, r := range records {
		if err := w.Write(logsink.Row(r)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return path
}

func TestRunSummary_ReadsLogFile(t *testing.T) {
	path := writeLog(t, sampleRecords())
	var stdout, stderr bytes.Buffer
	if err := run([]string{"summary", path}, &stdout, &stderr); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(stdout.String(), "records: 7\n") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}

	if err := run([]string{"summary"}, &stdout, &stderr); err == nil {
		t.Fatalf("expected error without a path")
	}
	if err := run([]string{"summary", filepath.Join(t.TempDir(), "nope.csv")}, &stdout, &stderr); err == nil {
		t.Fatalf("expected error for a missing log")
	}
}
