package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"telemux/internal/logsink"
	"telemux/internal/replay"
	"telemux/internal/serialport"
)

type replayFlags struct {
	speed   float64
	loop    bool
	rtcm    bool
	sensor  bool
	device  string
	baud    int
	driver  string
	maxGap  time.Duration
	maxRate int
}

func parseReplayFlags(args []string, stderr io.Writer) (replayFlags, string, error) {
	var f replayFlags
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&f.speed, "speed", 1.0, "playback speed multiplier")
	fs.BoolVar(&f.loop, "loop", false, "restart at the end of the log")
	fs.BoolVar(&f.rtcm, "rtcm", false, "also emit RTCM corrections (raw bytes)")
	fs.BoolVar(&f.sensor, "sensor", false, "also emit sensor rows as CSV lines")
	fs.StringVar(&f.device, "device", "", "write to this serial device instead of stdout")
	fs.IntVar(&f.baud, "baud", 115200, "baud rate for --device")
	fs.StringVar(&f.driver, "driver", serialport.DriverBugst, "serial driver for --device (bugst or termios)")
	fs.DurationVar(&f.maxGap, "max-gap", 5*time.Second, "cap any single wait; 0 disables the cap")
	fs.IntVar(&f.maxRate, "max-rate", 0, "cap records per second; 0 disables the cap")
	if err := fs.Parse(args); err != nil {
		return f, "", err
	}
	if fs.NArg() != 1 {
		return f, "", fmt.Errorf("replay needs exactly one log path")
	}
	return f, fs.Arg(0), nil
}

func (f replayFlags) options() replay.Options {
	kinds := []logsink.Kind{logsink.KindNMEA}
	if f.rtcm {
		kinds = append(kinds, logsink.KindRTCM)
	}
	if f.sensor {
		kinds = append(kinds, logsink.KindSensor)
	}
	return replay.Options{Speed: f.speed, Loop: f.loop, MaxGap: f.maxGap, Kinds: kinds, MaxRate: f.maxRate}
}

// encodeRecord renders rec as the bytes its device originally produced.
func encodeRecord(rec logsink.Record) []byte {
	switch e := rec.Entry.(type) {
	case logsink.Sentence:
		return []byte(e.Text + "\r\n")
	case logsink.Correction:
		return e.Data
	case logsink.Reading:
		return []byte(strings.Join(e.Fields(), ",") + "\r\n")
	}
	return nil
}

func replayTo(ctx context.Context, w io.Writer, records []logsink.Record, opts replay.Options, sleeper replay.Sleeper) error {
	return replay.Play(ctx, records, opts, sleeper, func(rec logsink.Record) error {
		b := encodeRecord(rec)
		if len(b) == 0 {
			return nil
		}
		_, err := w.Write(b)
		return err
	})
}

func runReplay(args []string, stdout, stderr io.Writer) error {
	f, path, err := parseReplayFlags(args, stderr)
	if err != nil {
		return err
	}
	records, err := readLog(path)
	if err != nil {
		return fmt.Errorf("read log failed: %w", err)
	}

	out := stdout
	if f.device != "" {
		p, err := openPort(serialport.Config{Path: f.device, Baud: f.baud, Driver: f.driver, ReadTimeout: 100 * time.Millisecond})
		if err != nil {
			return err
		}
		defer p.Close()
		out = p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err = replayTo(ctx, out, records, f.options(), nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
