// Package transport provides the byte-stream connections to the car's
// microcontrollers. The drive loop polls each transport without blocking:
// ReadAvailable returns whatever bytes have arrived since the last call (often
// none) so that a silent device never stalls the other one.
package transport

import (
	"errors"
	"io"
	"time"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// Transport is the capability the drive loop needs from a device link.
type Transport interface {
	// ReadAvailable returns the bytes received since the previous call. It
	// returns an empty slice, not an error, when nothing has arrived.
	ReadAvailable() ([]byte, error)
	// Write queues p for transmission.
	Write(p []byte) (int, error)
	// Flush blocks until queued writes have been transmitted.
	Flush() error
	// Close releases the underlying device.
	Close() error
}

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// Ports that implement it are switched to short read timeouts so reads poll
// instead of blocking.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// Drainer is implemented by ports that can wait for their output buffer to be
// transmitted.
type Drainer interface {
	Drain() error
}

// InputResetter is implemented by ports that can discard stale input.
type InputResetter interface {
	ResetInputBuffer() error
}
