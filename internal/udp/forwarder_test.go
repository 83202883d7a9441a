package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"telemux/internal/monitoring"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestForwarder(fc *fakeConn) *Forwarder {
	f, err := newForwarder("127.0.0.1:10110", net.ResolveUDPAddr, func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) {
		return fc, nil
	})
	if err != nil {
		panic(err)
	}
	return f
}

func TestNewForwarder_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}
	f, err := newForwarder("127.0.0.1:4000", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newForwarder() error: %v", err)
	}
	defer f.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewForwarder_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	_, err := newForwarder("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestForwarder_SendAppendsCRLF(t *testing.T) {
	fc := &fakeConn{}
	f := newTestForwarder(fc)

	if err := f.Send("$GPGGA,1*47\r\n"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != "$GPGGA,1*47\r\n" {
		t.Fatalf("writes=%q", fc.writes)
	}
	if sent, failed := f.Stats(); sent != 1 || failed != 0 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
}

func TestForwarder_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	f := newTestForwarder(fc)
	_ = f.Send("")
	_ = f.Send("\r\n")
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestForwarder_ErrorLoggedOncePerStreak(t *testing.T) {
	var logged int
	orig := monitoring.Logf
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })
	defer func() { monitoring.Logf = orig }()

	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	f := newTestForwarder(fc)

	for i := 0; i < 3; i++ {
		if err := f.Send("$GPRMC*00"); !errors.Is(err, wantErr) {
			t.Fatalf("err=%v want %v", err, wantErr)
		}
	}
	if logged != 1 {
		t.Fatalf("logged=%d want 1", logged)
	}

	fc.writeErr = nil
	f.LogSentence("$GPRMC*00")
	fc.writeErr = wantErr
	_ = f.Send("$GPRMC*00")
	if logged != 2 {
		t.Fatalf("logged=%d want 2 after recovery", logged)
	}
	if sent, failed := f.Stats(); sent != 1 || failed != 4 {
		t.Fatalf("sent=%d failed=%d want 1/4", sent, failed)
	}
}

func TestForwarder_RealSocket(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	f, err := NewForwarder(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewForwarder() error: %v", err)
	}
	defer f.Close()

	if err := f.Send("$GPGGA*00"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "$GPGGA*00\r\n" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestForwarder_NilSafe(t *testing.T) {
	var f *Forwarder
	if err := f.Send("x"); err != nil {
		t.Fatalf("Send on nil: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}
