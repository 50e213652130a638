package transport

import (
	"sync"

	"github.com/banshee-data/carputer/internal/monitoring"
)

// DisabledTransport is a no-op Transport used when the hardware is absent. Reads
// return nothing and writes are discarded (echoed to the debug log).
type DisabledTransport struct {
	name string

	mu      sync.Mutex
	written int
	closed  bool
}

func NewDisabledTransport(name string) *DisabledTransport {
	return &DisabledTransport{name: name}
}

func (d *DisabledTransport) ReadAvailable() ([]byte, error) { return nil, nil }

func (d *DisabledTransport) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.written += len(p)
	d.mu.Unlock()
	monitoring.Debugf("dummy write %s %q", d.name, p)
	return len(p), nil
}

func (d *DisabledTransport) Flush() error { return nil }

func (d *DisabledTransport) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// BytesWritten reports how many bytes have been discarded.
func (d *DisabledTransport) BytesWritten() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}
