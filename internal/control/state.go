// Package control decides, each cycle, which command the car should be
// given: the operator's radio input, the model's prediction, or a stop.
package control

// State is the arbiter's externally visible control state.
type State int

const (
	Idle State = iota
	ManualRecording
	AutonomousRecording
	AutonomousDriving
	Overridden
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ManualRecording:
		return "manual-recording"
	case AutonomousRecording:
		return "autonomous-recording"
	case AutonomousDriving:
		return "autonomous-driving"
	case Overridden:
		return "overridden"
	}
	return "unknown"
}

// Mode is fixed for the lifetime of the process by the CLI.
type Mode struct {
	Recording  bool
	Autonomous bool
}

// DriveState returns the state a drive enters on the start switch.
func (m Mode) DriveState() State {
	switch {
	case m.Autonomous && m.Recording:
		return AutonomousRecording
	case m.Autonomous:
		return AutonomousDriving
	case m.Recording:
		return ManualRecording
	}
	return Idle
}

func (m Mode) String() string {
	switch {
	case m.Autonomous && m.Recording:
		return "tf+record"
	case m.Autonomous:
		return "tf"
	case m.Recording:
		return "record"
	}
	return "idle"
}
