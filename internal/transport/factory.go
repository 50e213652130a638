package transport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/carputer/internal/monitoring"
)

// Opener opens a named transport with the given options.
type Opener func(name string, opts PortOptions) (Transport, error)

// OpenSerial opens a real serial port described by opts. Stale input left over
// from before the open is discarded.
func OpenSerial(name string, opts PortOptions) (Transport, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%s transport: serial port path is required", name)
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("%s transport: %w", name, err)
	}

	port, err := serial.Open(opts.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("%s transport: failed to open %s: %w", name, opts.Path, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		monitoring.Logf("%s transport: failed to reset input buffer: %v", name, err)
	}

	t, err := NewPortTransport[serial.Port](name, port, opts.PollTimeout())
	if err != nil {
		port.Close()
		return nil, err
	}

	monitoring.Logf("Opened %s transport %s at %d baud", name, opts.Path, mode.BaudRate)
	return t, nil
}

// OpenDisabled returns a stub transport regardless of opts. It is the Opener
// used in dev mode when no microcontrollers are attached.
func OpenDisabled(name string, _ PortOptions) (Transport, error) {
	return NewDisabledTransport(name), nil
}
