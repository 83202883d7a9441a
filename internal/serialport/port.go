// Package serialport opens the serial devices the multiplexer reads from
// and writes corrections to.
package serialport

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Port is the minimal surface the multiplexer needs from a serial device.
// A Read that times out returns 0, nil.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Drainer is implemented by ports that can block until queued output has
// been transmitted.
type Drainer interface {
	Drain() error
}

// Drain waits for p's output to be transmitted when the port supports it.
func Drain(p Port) error {
	if d, ok := p.(Drainer); ok {
		return d.Drain()
	}
	return nil
}

const (
	DriverBugst   = "bugst"
	DriverTermios = "termios"
)

type Config struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration
	// Driver selects the implementation: "bugst" (default) or "termios".
	// termios counts read timeouts in whole deciseconds, so ReadTimeout is
	// rounded up to a multiple of 100ms (a 10ms timeout becomes 100ms).
	Driver string
}

// Opener opens a port. Tests substitute their own.
type Opener func(cfg Config) (Port, error)

// Open opens cfg.Path with 8N1 framing at cfg.Baud.
func Open(cfg Config) (Port, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("serial path is required")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial baud must be > 0 (got %d)", cfg.Baud)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("serial read timeout must be > 0 (got %s)", cfg.ReadTimeout)
	}

	var (
		p   Port
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverBugst:
		p, err = openBugst(cfg)
	case DriverTermios:
		p, err = openTermios(cfg)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return p, nil
}
