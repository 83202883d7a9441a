package serialport

import (
	"bytes"
	"errors"
	"sync"
)

var ErrMockClosed = errors.New("serial port closed")

// MockRead is one scripted Read result.
type MockRead struct {
	Data []byte
	Err  error
}

// MockPort is a scripted Port for tests. Each Read consumes the next
// scripted result; once the script runs out, reads time out (0, nil).
type MockPort struct {
	mu sync.Mutex

	reads   []MockRead
	written bytes.Buffer
	events  []string

	WriteErr error
	DrainErr error

	ReadCalls  int
	WriteCalls int
	DrainCalls int
	Closed     bool
}

func NewMockPort(reads ...MockRead) *MockPort {
	return &MockPort{reads: reads}
}

// AddRead appends results to the read script.
func (m *MockPort) AddRead(reads ...MockRead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, reads...)
}

// AddData appends one successful read returning s.
func (m *MockPort) AddData(s string) {
	m.AddRead(MockRead{Data: []byte(s)})
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.Closed {
		return 0, ErrMockClosed
	}
	if len(m.reads) == 0 {
		return 0, nil
	}
	r := m.reads[0]
	n := copy(p, r.Data)
	if n < len(r.Data) {
		// Leave the rest for the next read, as a real driver would.
		m.reads[0].Data = r.Data[n:]
		return n, nil
	}
	m.reads = m.reads[1:]
	return n, r.Err
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if m.Closed {
		return 0, ErrMockClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.events = append(m.events, "write")
	return m.written.Write(p)
}

func (m *MockPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DrainCalls++
	if m.DrainErr != nil {
		return m.DrainErr
	}
	m.events = append(m.events, "drain")
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Written returns a copy of everything written so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Events lists successful writes and drains in call order.
func (m *MockPort) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Pending reports how many scripted reads remain.
func (m *MockPort) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reads)
}
