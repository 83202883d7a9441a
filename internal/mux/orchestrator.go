// Package mux drives the main read/decode/forward loop: it owns both serial
// devices, frames their output, hands corrections from the relay to the
// GPS receiver and fans every observation out to the log and the display.
package mux

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/ratelimit"

	"telemux/internal/frame"
	"telemux/internal/monitoring"
	"telemux/internal/queue"
	"telemux/internal/sensor"
	"telemux/internal/serialport"
)

// Presenter receives everything the loop observes. Implementations must
// return promptly.
type Presenter interface {
	Sentence(s string)
	Sample(s sensor.Sample)
	ParseError(line string, err error)
	Refresh()
}

// Logger records observations. It must never block.
type Logger interface {
	LogSentence(raw string)
	// LogCorrection must not modify chunk; the loop also writes it to the
	// GPS device.
	LogCorrection(chunk []byte)
	LogSample(s sensor.Sample)
}

// SentenceSink receives raw GPS sentences, e.g. a UDP forwarder.
type SentenceSink interface {
	LogSentence(raw string)
}

type Config struct {
	// GPS and Sensor may each be nil, but not both.
	GPS    serialport.Port
	Sensor serialport.Port

	// Corrections carries relay output; nil when no relay runs.
	Corrections *queue.Queue[[]byte]

	Presenter Presenter
	Logger    Logger
	Forward   []SentenceSink

	// RateHz caps iterations per second in Run. 0 means unpaced.
	RateHz int
	// ReadSize is the per-read buffer size. Default 1024.
	ReadSize int
}

type Stats struct {
	Iterations      uint64 `json:"iterations"`
	Abandoned       uint64 `json:"abandoned"`
	Sentences       uint64 `json:"sentences"`
	Samples         uint64 `json:"samples"`
	ParseErrors     uint64 `json:"parse_errors"`
	Corrections     uint64 `json:"corrections"`
	CorrectionBytes uint64 `json:"correction_bytes"`
	WriteErrors     uint64 `json:"write_errors"`
}

// Orchestrator is single-goroutine: Step and Run must not be called
// concurrently.
type Orchestrator struct {
	cfg Config

	gpsFrames   *frame.Extractor
	sensorLines *frame.Extractor
	buf         []byte

	// Failure streak flags; each is logged once per streak.
	gpsFailing    bool
	sensorFailing bool
	writeFailing  bool
	relayGone     bool

	stats Stats
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.GPS == nil && cfg.Sensor == nil {
		return nil, fmt.Errorf("no serial devices available")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if cfg.Presenter == nil {
		cfg.Presenter = nopPresenter{}
	}
	if cfg.RateHz < 0 {
		return nil, fmt.Errorf("rate must be >= 0 (got %d)", cfg.RateHz)
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 1024
	}
	return &Orchestrator{
		cfg:         cfg,
		gpsFrames:   frame.NewNMEA(),
		sensorLines: frame.NewLines(frame.LineTerminator),
		buf:         make([]byte, cfg.ReadSize),
	}, nil
}

// Run steps until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	limiter := ratelimit.NewUnlimited()
	if o.cfg.RateHz > 0 {
		limiter = ratelimit.New(o.cfg.RateHz)
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		limiter.Take()
		_ = o.Step()
	}
}

// Step runs one iteration: GPS, then sensor, then corrections, then a
// display refresh. A read error on either device abandons the rest of the
// iteration and is returned; everything else is absorbed.
func (o *Orchestrator) Step() error {
	o.stats.Iterations++

	if err := o.pollGPS(); err != nil {
		o.stats.Abandoned++
		return err
	}
	if err := o.pollSensor(); err != nil {
		o.stats.Abandoned++
		return err
	}
	o.drainCorrections()
	o.cfg.Presenter.Refresh()
	return nil
}

func (o *Orchestrator) Stats() Stats {
	return o.stats
}

func (o *Orchestrator) pollGPS() error {
	if o.cfg.GPS == nil {
		return nil
	}
	// Sentences completed by bytes that came with an error are still
	// delivered before the iteration is abandoned.
	sentences, err := o.gpsFrames.ReadFrom(o.cfg.GPS, o.buf)
	for _, s := range sentences {
		o.stats.Sentences++
		o.cfg.Presenter.Sentence(s)
		o.cfg.Logger.LogSentence(s)
		for _, f := range o.cfg.Forward {
			f.LogSentence(s)
		}
	}
	if err != nil {
		if !o.gpsFailing {
			o.gpsFailing = true
			monitoring.Logf("gps read failed: %v", err)
		}
		return fmt.Errorf("gps read: %w", err)
	}
	if o.gpsFailing {
		o.gpsFailing = false
		monitoring.Logf("gps reads recovered")
	}
	return nil
}

func (o *Orchestrator) pollSensor() error {
	if o.cfg.Sensor == nil {
		return nil
	}
	lines, err := o.sensorLines.ReadFrom(o.cfg.Sensor, o.buf)
	for _, line := range lines {
		o.handleSensorLine(line)
	}
	if err != nil {
		if !o.sensorFailing {
			o.sensorFailing = true
			monitoring.Logf("sensor read failed: %v", err)
		}
		return fmt.Errorf("sensor read: %w", err)
	}
	if o.sensorFailing {
		o.sensorFailing = false
		monitoring.Logf("sensor reads recovered")
	}
	return nil
}

func (o *Orchestrator) handleSensorLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	sample, err := sensor.Parse(line)
	if err != nil {
		o.stats.ParseErrors++
		monitoring.Logf("sensor parse failed line=%q err=%v", strings.TrimSpace(line), err)
		o.cfg.Presenter.ParseError(line, err)
		return
	}
	o.stats.Samples++
	o.cfg.Presenter.Sample(sample)
	o.cfg.Logger.LogSample(sample)
}

// drainCorrections takes every chunk already queued and never waits for more.
func (o *Orchestrator) drainCorrections() {
	q := o.cfg.Corrections
	if q == nil || o.relayGone {
		return
	}
	for {
		chunk, err := q.TryPop()
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		if errors.Is(err, queue.ErrClosed) {
			monitoring.Logf("correction queue closed; relay gone")
			o.relayGone = true
			return
		}
		o.stats.Corrections++
		o.stats.CorrectionBytes += uint64(len(chunk))
		o.cfg.Logger.LogCorrection(chunk)
		o.writeCorrection(chunk)
	}
}

func (o *Orchestrator) writeCorrection(chunk []byte) {
	if o.cfg.GPS == nil {
		return
	}
	err := writeAll(o.cfg.GPS, chunk)
	if err == nil {
		err = serialport.Drain(o.cfg.GPS)
	}
	if err != nil {
		o.stats.WriteErrors++
		if !o.writeFailing {
			o.writeFailing = true
			monitoring.Logf("gps correction write failed bytes=%d err=%v", len(chunk), err)
		}
		return
	}
	o.writeFailing = false
}

func writeAll(p serialport.Port, b []byte) error {
	for len(b) > 0 {
		n, err := p.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		b = b[n:]
	}
	return nil
}

type nopPresenter struct{}

func (nopPresenter) Sentence(string)          {}
func (nopPresenter) Sample(sensor.Sample)     {}
func (nopPresenter) ParseError(string, error) {}
func (nopPresenter) Refresh()                 {}
