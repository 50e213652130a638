package control

import (
	"math"

	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/output"
	"github.com/banshee-data/carputer/internal/telemetry"
)

// Thresholds tune override and gesture detection. Zero fields take the
// defaults from DefaultThresholds.
type Thresholds struct {
	// RC steering outside [OverrideSteeringLow, OverrideSteeringHigh] with
	// throttle above OverrideThrottle while driving autonomously is an
	// override.
	OverrideSteeringLow  int
	OverrideSteeringHigh int
	OverrideThrottle     int
	// An aux1 swing larger than GestureDelta is an operator gesture.
	GestureDelta int
}

// DefaultThresholds match a standard 1000-2000us transmitter mapped to degrees.
var DefaultThresholds = Thresholds{
	OverrideSteeringLow:  50,
	OverrideSteeringHigh: 130,
	OverrideThrottle:     130,
	GestureDelta:         400,
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds
	if t.OverrideSteeringLow != 0 {
		d.OverrideSteeringLow = t.OverrideSteeringLow
	}
	if t.OverrideSteeringHigh != 0 {
		d.OverrideSteeringHigh = t.OverrideSteeringHigh
	}
	if t.OverrideThrottle != 0 {
		d.OverrideThrottle = t.OverrideThrottle
	}
	if t.GestureDelta != 0 {
		d.GestureDelta = t.GestureDelta
	}
	return d
}

// Actuator is the part of the output writer the arbiter drives directly on
// safety transitions.
type Actuator interface {
	Stop() error
	CenterESC() error
}

// Inputs is what the arbiter observes in one cycle.
type Inputs struct {
	// RC is the most recent radio sample received this cycle, if any.
	RC *telemetry.SteeringSample
	// ButtonOut is the current start switch state reported by the output
	// controller.
	ButtonOut int
	// Ticks is the cumulative odometer count.
	Ticks int64
}

// Step reports what happened during one Update.
type Step struct {
	Started     bool
	Stopped     bool
	Gesture     bool
	Override    bool
	Reengaged   bool
	State       State
	OdoBaseline int64
}

// Arbiter owns the current command and the drive state machine.
type Arbiter struct {
	mode     Mode
	limits   Thresholds
	actuator Actuator
	frame    func() int64

	running    bool
	overridden bool
	lastButton int

	rc           output.CommandPair
	haveRC       bool
	aux1Baseline int
	haveAux1     bool
	odoBaseline  int64

	cmd output.CommandPair
}

// NewArbiter returns an idle arbiter. frame, if non-nil, supplies the current
// frame counter for log lines.
func NewArbiter(mode Mode, limits Thresholds, actuator Actuator, frame func() int64) *Arbiter {
	if frame == nil {
		frame = func() int64 { return 0 }
	}
	return &Arbiter{
		mode:     mode,
		limits:   limits.withDefaults(),
		actuator: actuator,
		frame:    frame,
		cmd:      output.NeutralCommand,
	}
}

// Update advances the state machine by one cycle. Edges are handled first,
// then gestures, then override detection.
func (a *Arbiter) Update(in Inputs) Step {
	var step Step

	if in.RC != nil {
		a.rc = output.CommandPair{Steering: in.RC.Steering, Throttle: in.RC.Throttle}
		a.haveRC = true
	}

	if in.ButtonOut != a.lastButton {
		a.lastButton = in.ButtonOut
		if in.ButtonOut == 1 {
			a.running = true
			a.overridden = false
			a.odoBaseline = in.Ticks
			step.Started = true
			monitoring.Logf("%d: Switch flipped.", a.frame())
		} else {
			a.running = false
			a.overridden = false
			step.Stopped = true
			monitoring.Logf("%d: Switch flipped. Recording stopped.", a.frame())
		}
	}

	if in.RC != nil && a.gesture(in.RC.Aux1, in.Ticks) {
		step.Gesture = true
		if a.overridden {
			a.overridden = false
			step.Reengaged = true
			a.cmd = output.NeutralCommand
			monitoring.Logf("%d: Detected RC input: re-engaging autonomous control.", a.frame())
			if err := a.actuator.CenterESC(); err != nil {
				monitoring.Logf("%d: center esc: %v", a.frame(), err)
			}
		}
	}

	if a.mode.Autonomous && a.running && !a.overridden && a.haveRC && a.overrideInput(a.rc) {
		a.overridden = true
		step.Override = true
		monitoring.Logf("%d: Detected RC override: stopping.", a.frame())
		if err := a.actuator.Stop(); err != nil {
			monitoring.Logf("%d: stop: %v", a.frame(), err)
		}
	}

	// The model's last command must not outlive the drive.
	if step.Stopped && a.mode.Autonomous {
		a.cmd = output.NeutralCommand
	}

	switch {
	case a.overridden:
		a.cmd = output.CommandPair{Steering: output.Neutral, Throttle: 0}
	case a.mode.Autonomous && a.running:
		// held until SetPrediction
	case in.RC != nil:
		a.cmd = a.rc
	}

	step.State = a.State()
	step.OdoBaseline = a.odoBaseline
	return step
}

// gesture updates the aux1 baseline and reports whether aux1 swung past the
// gesture threshold. The first sample seeds the baseline.
func (a *Arbiter) gesture(aux1 int, ticks int64) bool {
	if !a.haveAux1 {
		a.aux1Baseline, a.haveAux1 = aux1, true
		return false
	}
	if abs(aux1-a.aux1Baseline) <= a.limits.GestureDelta {
		return false
	}
	a.aux1Baseline = aux1
	a.odoBaseline = ticks
	monitoring.Logf("%d: Resetting the odometer.", a.frame())
	return true
}

func (a *Arbiter) overrideInput(rc output.CommandPair) bool {
	outside := rc.Steering < a.limits.OverrideSteeringLow || rc.Steering > a.limits.OverrideSteeringHigh
	return outside && rc.Throttle > a.limits.OverrideThrottle
}

// NeedsPrediction reports whether this cycle's command should come from the
// model.
func (a *Arbiter) NeedsPrediction() bool {
	return a.mode.Autonomous && a.running && !a.overridden
}

// SetPrediction replaces the command with a model output. Values are rounded
// but not clamped; the output writer applies limits. It is ignored unless
// NeedsPrediction is true.
func (a *Arbiter) SetPrediction(steering, throttle float64) {
	if !a.NeedsPrediction() {
		return
	}
	a.cmd = output.CommandPair{
		Steering: int(math.Round(steering)),
		Throttle: int(math.Round(throttle)),
	}
}

// Command returns the command to emit this cycle.
func (a *Arbiter) Command() output.CommandPair {
	return a.cmd
}

// State returns the current control state.
func (a *Arbiter) State() State {
	switch {
	case !a.running:
		return Idle
	case a.overridden:
		return Overridden
	}
	return a.mode.DriveState()
}

// Mode returns the arbiter's fixed mode.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

// Running reports whether the start switch is on.
func (a *Arbiter) Running() bool {
	return a.running
}

// Overridden reports whether the operator has taken over.
func (a *Arbiter) Overridden() bool {
	return a.overridden
}

// RelativeOdometer returns ticks since the last drive start or gesture.
func (a *Arbiter) RelativeOdometer(ticks int64) int64 {
	return ticks - a.odoBaseline
}

// Aux1Baseline returns the aux1 value of the last gesture.
func (a *Arbiter) Aux1Baseline() int {
	return a.aux1Baseline
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
