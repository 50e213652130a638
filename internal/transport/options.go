package transport

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters used when opening a real
// serial port. The JSON tags match the car configuration file.
type PortOptions struct {
	Path        string `json:"path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	ReadTimeout string `json:"read_timeout,omitempty"` // duration string like "1ms"
}

// DefaultReadTimeout bounds a single poll of an idle port.
const DefaultReadTimeout = time.Millisecond

// Normalise validates the options and applies defaults for any unset values.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if !isStandardBaudRate(opts.BaudRate) {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.ToUpper(strings.TrimSpace(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	if letter, ok := parityNames[parity]; ok {
		parity = letter
	}
	if _, ok := parities[parity]; !ok {
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	if opts.ReadTimeout != "" {
		if _, err := time.ParseDuration(opts.ReadTimeout); err != nil {
			return opts, fmt.Errorf("invalid read_timeout %q: %w", opts.ReadTimeout, err)
		}
	}

	return opts, nil
}

// parities maps the normalised parity letter to its go.bug.st/serial value.
var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityNames = map[string]string{"NONE": "N", "EVEN": "E", "ODD": "O"}

var standardBaudRates = []int{300, 1200, 2400, 4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200, 230400, 250000, 500000, 1000000}

func isStandardBaudRate(rate int) bool {
	return slices.Contains(standardBaudRates, rate)
}

// PollTimeout returns the per-read timeout used when draining the port.
func (o PortOptions) PollTimeout() time.Duration {
	if o.ReadTimeout == "" {
		return DefaultReadTimeout
	}
	d, err := time.ParseDuration(o.ReadTimeout)
	if err != nil || d < 0 {
		return DefaultReadTimeout
	}
	return d
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parities[opts.Parity],
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}
