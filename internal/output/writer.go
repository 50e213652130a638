// Package output drives the servo/ESC controller. Commands are normalised,
// sent only when they change, and followed by a keepalive on every cycle so the
// controller's failsafe never trips while the loop is healthy.
package output

import (
	"fmt"
	"time"

	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/timeutil"
	"github.com/banshee-data/carputer/internal/transport"
)

// Servo and ESC pulse positions, in degrees as the controller understands them.
const (
	Neutral     = 90
	MaxSteering = 179
	MaxThrottle = 130

	// Throttle values within the dead band collapse to Neutral.
	DeadBandLow  = 88
	DeadBandHigh = 92

	DefaultStopStepDelay = 16 * time.Millisecond
)

// CommandPair is one steering/throttle command.
type CommandPair struct {
	Steering int
	Throttle int
}

// NeutralCommand is the initial command: wheels straight, ESC idle.
var NeutralCommand = CommandPair{Steering: Neutral, Throttle: Neutral}

func (c CommandPair) String() string {
	return fmt.Sprintf("ste=%d thr=%d", c.Steering, c.Throttle)
}

// Normalise applies the controller's limits to c.
func Normalise(c CommandPair) CommandPair {
	return CommandPair{
		Steering: clamp(c.Steering, 0, MaxSteering),
		Throttle: normaliseThrottle(c.Throttle),
	}
}

func normaliseThrottle(v int) int {
	switch {
	case v < 0:
		return 0
	case v >= DeadBandLow && v <= DeadBandHigh:
		return Neutral
	case v > MaxThrottle:
		return MaxThrottle
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Writer emits commands on the output transport.
type Writer struct {
	port      transport.Transport
	clock     timeutil.Clock
	stepDelay time.Duration

	last    CommandPair
	hasLast bool
}

// NewWriter returns a Writer for port. A zero stepDelay uses
// DefaultStopStepDelay.
func NewWriter(port transport.Transport, clock timeutil.Clock, stepDelay time.Duration) *Writer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if stepDelay <= 0 {
		stepDelay = DefaultStopStepDelay
	}
	return &Writer{port: port, clock: clock, stepDelay: stepDelay}
}

// Last returns the last emitted (normalised) command and whether anything has
// been emitted yet.
func (w *Writer) Last() (CommandPair, bool) {
	return w.last, w.hasLast
}

// Apply sends c, writing S and D lines only for values that changed since the
// last emitted command, then a keepalive, then flushes.
func (w *Writer) Apply(c CommandPair) error {
	return w.emit(Normalise(c), false)
}

// Stop brings the car to a halt: neutral steering with zero throttle, then
// neutral throttle to re-arm the ESC. Both steps are sent unconditionally and
// each is followed by the stop step delay.
func (w *Writer) Stop() error {
	var firstErr error
	for _, c := range []CommandPair{{Neutral, 0}, {Neutral, Neutral}} {
		if err := w.emit(c, true); err != nil && firstErr == nil {
			firstErr = err
		}
		w.clock.Sleep(w.stepDelay)
	}
	if firstErr != nil {
		return fmt.Errorf("stop sequence: %w", firstErr)
	}
	return nil
}

// CenterESC sends a forced neutral command.
func (w *Writer) CenterESC() error {
	if err := w.emit(NeutralCommand, true); err != nil {
		return fmt.Errorf("center esc: %w", err)
	}
	return nil
}

func (w *Writer) emit(c CommandPair, force bool) error {
	if force || !w.hasLast || c.Steering != w.last.Steering {
		if err := w.write(fmt.Sprintf("S%d\n", c.Steering)); err != nil {
			return err
		}
	}
	if force || !w.hasLast || c.Throttle != w.last.Throttle {
		if err := w.write(fmt.Sprintf("D%d\n", c.Throttle)); err != nil {
			return err
		}
	}
	w.last, w.hasLast = c, true

	if err := w.write("keepalive\n"); err != nil {
		return err
	}
	if err := w.port.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	monitoring.Debugf("output: %s", c)
	return nil
}

func (w *Writer) write(line string) error {
	if _, err := w.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("write %q: %w", line[:len(line)-1], err)
	}
	return nil
}
