package telemetry

import "fmt"

// Kind identifies the variant carried by an Event.
type Kind int

const (
	KindSteeringSample Kind = iota + 1
	KindOdometerTick
	KindButtonIn
	KindButtonOut
	KindImuSample
	KindMalformed
)

var kindNames = map[Kind]string{
	KindSteeringSample: "steering",
	KindOdometerTick:   "odometer",
	KindButtonIn:       "button_in",
	KindButtonOut:      "button_out",
	KindImuSample:      "imu",
	KindMalformed:      "malformed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// SteeringSample is one reading of the radio receiver channels.
type SteeringSample struct {
	Steering int
	Throttle int
	Aux1     int
}

// OdometerTick is one encoder pulse reported by the output controller. Ticks
// is the parser's cumulative count including this pulse.
type OdometerTick struct {
	Millis int64
	Ticks  int64
}

// ImuSample is one orientation/rate/acceleration reading.
type ImuSample struct {
	Quat  [4]float64 // x, y, z, w
	Gyro  [3]float64
	Accel [3]float64
}

// Event is a tagged union over the telemetry variants. Only the field that
// matches Kind is meaningful.
type Event struct {
	Kind      Kind
	Steering  SteeringSample
	Odometer  OdometerTick
	ButtonIn  bool // state after the toggle
	ButtonOut int
	Imu       ImuSample
	// Line is the raw line for Malformed events.
	Line string
}

func (e Event) String() string {
	switch e.Kind {
	case KindSteeringSample:
		return fmt.Sprintf("steering ste=%d thr=%d aux1=%d", e.Steering.Steering, e.Steering.Throttle, e.Steering.Aux1)
	case KindOdometerTick:
		return fmt.Sprintf("odometer ticks=%d mil=%d", e.Odometer.Ticks, e.Odometer.Millis)
	case KindButtonIn:
		return fmt.Sprintf("button_in %t", e.ButtonIn)
	case KindButtonOut:
		return fmt.Sprintf("button_out %d", e.ButtonOut)
	case KindImuSample:
		return fmt.Sprintf("imu quat=%v gyro=%v accel=%v", e.Imu.Quat, e.Imu.Gyro, e.Imu.Accel)
	case KindMalformed:
		return fmt.Sprintf("malformed %q", e.Line)
	}
	return "unknown"
}
