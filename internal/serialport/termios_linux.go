//go:build linux

package serialport

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"telemux/internal/monitoring"
)

type termiosPort struct {
	fd int
}

func openTermios(cfg Config) (Port, error) {
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	spd, err := baudToUnix(cfg.Baud)
	if err != nil {
		return nil, err
	}

	// Raw 8N1.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Pure timed read: return whatever arrived within VTIME, possibly nothing.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = termiosVtime(cfg.Path, cfg.ReadTimeout)

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}
	ok = true
	return &termiosPort{fd: fd}, nil
}

// termiosVtime is vtime plus a warning when the device will not honour the
// configured timeout exactly.
func termiosVtime(path string, d time.Duration) uint8 {
	v := vtime(d)
	if eff := time.Duration(v) * 100 * time.Millisecond; eff != d {
		monitoring.Logf("serial read timeout rounded device=%s requested=%s effective=%s", path, d, eff)
	}
	return v
}

// vtime converts d to termios deciseconds, rounded up and clamped to 1..255.
func vtime(d time.Duration) uint8 {
	ds := (d + 99*time.Millisecond) / (100 * time.Millisecond)
	if ds < 1 {
		return 1
	}
	if ds > 255 {
		return 255
	}
	return uint8(ds)
}

func (p *termiosPort) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(p.fd, b)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (p *termiosPort) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(p.fd, b[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Drain is tcdrain(3).
func (p *termiosPort) Drain() error {
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

func (p *termiosPort) Close() error {
	return unix.Close(p.fd)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
