package transport

import (
	"fmt"
	"sync"
	"time"
)

// maxReadPerPoll caps the bytes collected by a single ReadAvailable call so a
// chatty device cannot hold the loop.
const maxReadPerPoll = 64 * 1024

// PortTransport adapts a SerialPorter to the polling Transport contract.
type PortTransport[T SerialPorter] struct {
	port T
	name string
	mu   sync.Mutex
	buf  []byte
}

// NewPortTransport wraps port. If the port supports read timeouts it is
// switched to pollTimeout so reads return promptly when the device is quiet.
func NewPortTransport[T SerialPorter](name string, port T, pollTimeout time.Duration) (*PortTransport[T], error) {
	if tp, ok := any(port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(pollTimeout); err != nil {
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
		}
	}
	return &PortTransport[T]{
		port: port,
		name: name,
		buf:  make([]byte, 4096),
	}, nil
}

// Name returns the transport's label ("input", "output", "imu").
func (p *PortTransport[T]) Name() string {
	return p.name
}

// ReadAvailable drains whatever the port has buffered.
func (p *PortTransport[T]) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []byte
	for len(out) < maxReadPerPoll {
		n, err := p.port.Read(p.buf)
		if n > 0 {
			out = append(out, p.buf[:n]...)
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", p.name, err)
		}
		if n < len(p.buf) {
			break
		}
	}
	return out, nil
}

// Write writes p to the port.
func (p *PortTransport[T]) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.port.Write(data)
	if err != nil {
		return n, err
	}
	if n != len(data) {
		return n, ErrWriteFailed
	}
	return n, nil
}

// Flush waits for queued output when the port supports it.
func (p *PortTransport[T]) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := any(p.port).(Drainer); ok {
		return d.Drain()
	}
	return nil
}

// Close closes the port.
func (p *PortTransport[T]) Close() error {
	return p.port.Close()
}
