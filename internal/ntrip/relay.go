// Package ntrip implements the correction relay: an NTRIP v1 client that
// streams RTCM bytes from a caster and hands every read to a queue.
package ntrip

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool/v2"

	"telemux/internal/monitoring"
	"telemux/internal/queue"
)

const (
	DefaultCaster    = "rtk2go.com:2101"
	DefaultUserAgent = "NTRIP telemux"
)

type State string

const (
	StateStopped        State = "stopped"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateStreaming      State = "streaming"
	StateBackingOff     State = "backing_off"
)

var errStreamClosed = errors.New("stream closed by caster")

type Config struct {
	// Addr is the caster host:port.
	Addr     string
	Mount    string
	User     string
	Password string

	UserAgent string

	// ReconnectDelay is the fixed wait after any failure. There is no
	// growth and no attempt limit.
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	ChunkSize      int
}

type Relay struct {
	cfg Config
	req []byte

	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	sleep func(ctx context.Context, d time.Duration) bool

	started   atomic.Bool
	closed    atomic.Bool
	connected *abool.AtomicBool

	mu         sync.RWMutex
	state      State
	lastErr    string
	lastStatus string
	lastSeen   time.Time
	attempts   uint64
	chunks     uint64
	bytes      uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Addr        string `json:"addr"`
	Mount       string `json:"mount"`
	State       State  `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Attempts    uint64 `json:"attempts"`
	Chunks      uint64 `json:"chunks"`
	Bytes       uint64 `json:"bytes"`
}

func New(cfg Config) (*Relay, error) {
	if strings.TrimSpace(cfg.Mount) == "" {
		return nil, fmt.Errorf("ntrip mount is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultCaster
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Relay{
		cfg:       cfg,
		req:       BuildRequest(cfg.Mount, cfg.User, cfg.Password, cfg.UserAgent),
		dial:      dialer.DialContext,
		sleep:     sleepCtx,
		connected: abool.New(),
		state:     StateStopped,
		done:      make(chan struct{}),
	}, nil
}

// BuildRequest renders the NTRIP v1 request header for mount.
func BuildRequest(mount, user, password, userAgent string) []byte {
	auth := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return []byte("GET /" + strings.TrimPrefix(mount, "/") + " HTTP/1.0\r\n" +
		"User-Agent: " + userAgent + "\r\n" +
		"Accept: */*\r\n" +
		"Authorization: Basic " + auth + "\r\n" +
		"Connection: close\r\n\r\n")
}

// StatusOK reports whether a caster status line signals success, in either
// the HTTP or the legacy ICY dialect.
func StatusOK(line string) bool {
	return strings.Contains(line, "200 OK")
}

// Start runs the relay in its own goroutine. Every non-empty socket read is
// pushed to out as a fresh slice. The relay keeps reconnecting until ctx is
// done, Close is called, or the consumer closes out.
func (r *Relay) Start(ctx context.Context, out *queue.Queue[[]byte]) error {
	if r == nil {
		return fmt.Errorf("ntrip relay is nil")
	}
	if r.closed.Load() {
		return fmt.Errorf("ntrip relay is closed")
	}
	if out == nil {
		return fmt.Errorf("ntrip output queue is nil")
	}
	if r.started.Swap(true) {
		return fmt.Errorf("ntrip relay already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		defer close(r.done)
		r.runLoop(runCtx, out)
	}()
	return nil
}

func (r *Relay) Close() {
	if r == nil {
		return
	}
	if r.closed.Swap(true) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.started.Load() {
		<-r.done
	}
}

// Connected reports whether the relay is currently streaming.
func (r *Relay) Connected() bool {
	return r != nil && r.connected.IsSet()
}

func (r *Relay) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Snapshot{
		Addr:       r.cfg.Addr,
		Mount:      r.cfg.Mount,
		State:      r.state,
		LastError:  r.lastErr,
		LastStatus: r.lastStatus,
		Attempts:   r.attempts,
		Chunks:     r.chunks,
		Bytes:      r.bytes,
	}
	if !r.lastSeen.IsZero() {
		out.LastSeenUTC = r.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (r *Relay) runLoop(ctx context.Context, out *queue.Queue[[]byte]) {
	monitoring.Logf("ntrip relay started caster=%s mount=%s", r.cfg.Addr, r.cfg.Mount)
	for {
		if ctx.Err() != nil {
			r.setState(StateStopped, "")
			return
		}

		r.mu.Lock()
		r.attempts++
		r.mu.Unlock()

		consumerGone, err := r.session(ctx, out)
		r.connected.UnSet()
		if consumerGone {
			monitoring.Logf("ntrip relay stopping: correction queue closed")
			r.setState(StateStopped, "")
			return
		}
		if ctx.Err() != nil {
			r.setState(StateStopped, "")
			return
		}

		r.setState(StateBackingOff, err.Error())
		monitoring.Logf("ntrip %v; retrying in %s", err, r.cfg.ReconnectDelay)
		if !r.sleep(ctx, r.cfg.ReconnectDelay) {
			r.setState(StateStopped, "")
			return
		}
	}
}

// session runs one Connecting -> Authenticating -> Streaming pass. It
// always returns a non-nil error unless the consumer closed the queue.
func (r *Relay) session(ctx context.Context, out *queue.Queue[[]byte]) (consumerGone bool, err error) {
	r.setState(StateConnecting, "")
	conn, err := r.dial(ctx, "tcp", r.cfg.Addr)
	if err != nil {
		return false, fmt.Errorf("connect %s: %w", r.cfg.Addr, err)
	}
	defer conn.Close()

	// Unblock a pending Read when the relay is shut down.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r.setState(StateAuthenticating, "")
	if _, err := conn.Write(r.req); err != nil {
		return false, fmt.Errorf("send request: %w", err)
	}

	reader := bufio.NewReaderSize(conn, r.cfg.ChunkSize)
	status, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}
	status = strings.TrimSpace(status)
	r.mu.Lock()
	r.lastStatus = status
	r.mu.Unlock()
	if !StatusOK(status) {
		// Some casters omit a conforming status line; keep reading.
		monitoring.Logf("ntrip unexpected status=%q mount=%s", status, r.cfg.Mount)
	}

	r.setState(StateStreaming, "")
	r.connected.Set()

	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if perr := out.Push(chunk); perr != nil {
				return true, nil
			}
			r.mu.Lock()
			r.chunks++
			r.bytes += uint64(n)
			r.lastSeen = time.Now()
			r.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("ntrip stream closed mount=%s", r.cfg.Mount)
				return false, errStreamClosed
			}
			return false, fmt.Errorf("read: %w", err)
		}
	}
}

func (r *Relay) setState(state State, lastErr string) {
	r.mu.Lock()
	r.state = state
	if lastErr != "" {
		r.lastErr = lastErr
	} else if state == StateStreaming || state == StateStopped {
		r.lastErr = ""
	}
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
