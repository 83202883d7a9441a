// Command telemux multiplexes a GNSS receiver, a sensor board and an NTRIP
// correction stream into one CSV log, feeding corrections back to the
// receiver and showing the latest fix on the terminal.
//
// Usage:
//
//	telemux [run] [flags]
//	telemux summary <log.csv>
//	telemux replay [flags] <log.csv>
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runLive(args, stdout, stderr)
	case "summary":
		err = runSummary(args, stdout, stderr)
	case "replay":
		err = runReplay(args, stdout, stderr)
	case "help":
		printUsage(stderr)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `telemux: GNSS, sensor and RTK correction multiplexer.

Usage:
  telemux [run] [flags]          read devices, relay corrections, log to CSV
  telemux summary <log.csv>      summarize a log
  telemux replay [flags] <log>   play a log back with its recorded timing

Run "telemux <command> --help" for the flags of a command.
`)
}
