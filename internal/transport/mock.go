package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestableSerialPort implements TimeoutSerialPorter with configurable behaviour
// for testing PortTransport without hardware.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	// Drains records the number of Drain calls
	Drains int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer. An empty buffer yields (0, nil), like a
// serial port whose read timeout expired.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Drain implements Drainer.
func (t *TestableSerialPort) Drain() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Drains++
	return nil
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// ScriptedTransport is a Transport that hands out queued chunks, one per
// ReadAvailable call, and records everything written. It lets drive loop
// tests decide exactly which bytes arrive in which cycle.
type ScriptedTransport struct {
	mu      sync.Mutex
	chunks  [][]byte
	errs    []error
	written bytes.Buffer
	writes  []string
	flushes int
	closed  bool

	// WriteError, if set, is returned by every Write.
	WriteError error
}

// NewScriptedTransport returns an empty ScriptedTransport.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{}
}

// Queue appends a chunk that a future ReadAvailable call will return.
func (s *ScriptedTransport) Queue(chunk string) {
	s.QueueBytes([]byte(chunk))
}

// QueueBytes appends a raw chunk.
func (s *ScriptedTransport) QueueBytes(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	s.errs = append(s.errs, nil)
}

// QueueError makes a future ReadAvailable call fail.
func (s *ScriptedTransport) QueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, nil)
	s.errs = append(s.errs, err)
}

func (s *ScriptedTransport) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}
	chunk, err := s.chunks[0], s.errs[0]
	s.chunks, s.errs = s.chunks[1:], s.errs[1:]
	return chunk, err
}

func (s *ScriptedTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	s.written.Write(p)
	s.writes = append(s.writes, string(p))
	return len(p), nil
}

func (s *ScriptedTransport) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *ScriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Written returns everything written so far as one string.
func (s *ScriptedTransport) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Writes returns the individual Write payloads in order.
func (s *ScriptedTransport) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// ResetWrites forgets previously recorded writes.
func (s *ScriptedTransport) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written.Reset()
	s.writes = nil
}

// Flushes returns the number of Flush calls.
func (s *ScriptedTransport) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called.
func (s *ScriptedTransport) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
