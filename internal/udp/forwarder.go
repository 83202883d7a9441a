// Package udp forwards NMEA sentences to a UDP listener such as a moving
// map or a logging host on the local network.
package udp

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/tevino/abool/v2"

	"telemux/internal/monitoring"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Forwarder sends each sentence as one datagram terminated by CRLF.
type Forwarder struct {
	dest string
	conn udpConn

	failing *abool.AtomicBool
	sent    atomic.Uint64
	failed  atomic.Uint64
}

func NewForwarder(dest string) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{dest: dest, conn: conn, failing: abool.New()}, nil
}

// Send forwards one sentence. Errors are returned and logged once per
// failure streak; forwarding is best-effort and never stops the caller.
func (f *Forwarder) Send(sentence string) error {
	sentence = strings.TrimSpace(sentence)
	if f == nil || sentence == "" {
		return nil
	}
	if _, err := f.conn.Write([]byte(sentence + "\r\n")); err != nil {
		f.failed.Add(1)
		if f.failing.SetToIf(false, true) {
			monitoring.Logf("udp forward failed dest=%s err=%v", f.dest, err)
		}
		return err
	}
	f.failing.UnSet()
	f.sent.Add(1)
	return nil
}

// LogSentence lets a Forwarder stand in wherever sentences are fanned out.
func (f *Forwarder) LogSentence(raw string) {
	_ = f.Send(raw)
}

func (f *Forwarder) Stats() (sent, failed uint64) {
	if f == nil {
		return 0, 0
	}
	return f.sent.Load(), f.failed.Load()
}

func (f *Forwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
