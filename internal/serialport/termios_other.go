//go:build !linux

package serialport

import "fmt"

func openTermios(cfg Config) (Port, error) {
	return nil, fmt.Errorf("termios serial driver not supported on this platform")
}
