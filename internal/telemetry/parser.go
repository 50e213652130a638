package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

// Parser converts raw transport bytes into events. Each transport owns exactly
// one Parser; the parser owns the transport's partial-line state.
type Parser interface {
	Feed(chunk []byte) ([]Event, error)
}

var steeringPattern = regexp.MustCompile(`(\d+) (\d+) (\d+)`)

// InputParser decodes lines from the radio-control input controller:
//
//	"<steering> <throttle> <aux1>"  steering sample
//	"S..."                          button toggle
type InputParser struct {
	lines    LineBuffer
	buttonIn bool
}

// NewInputParser returns an InputParser with the button in its off state.
func NewInputParser() *InputParser {
	return &InputParser{}
}

// Feed implements Parser. On ErrDecode the buffered partial line is dropped
// and no events are returned for the chunk.
func (p *InputParser) Feed(chunk []byte) ([]Event, error) {
	lines, err := p.lines.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range lines {
		if ev, ok := p.ParseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// ParseLine decodes one complete line. ok is false for lines that match no
// grammar.
func (p *InputParser) ParseLine(line string) (ev Event, ok bool) {
	line = strings.TrimRight(line, "\r")

	// the firmware never sends a toggle and a sample on the same line
	if strings.HasPrefix(line, "S") {
		p.buttonIn = !p.buttonIn
		return Event{Kind: KindButtonIn, ButtonIn: p.buttonIn}, true
	}

	m := steeringPattern.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	vals := [3]int{}
	for i := range vals {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Event{Kind: KindMalformed, Line: line}, true
		}
		vals[i] = v
	}
	return Event{
		Kind:     KindSteeringSample,
		Steering: SteeringSample{Steering: vals[0], Throttle: vals[1], Aux1: vals[2]},
	}, true
}

// ButtonIn reports the current toggle state.
func (p *InputParser) ButtonIn() bool {
	return p.buttonIn
}

// OutputParser decodes lines from the servo/odometer output controller:
//
//	"Mil\t<millis>"    odometer tick
//	"Button\t<state>"  drive switch
//	"IMU ..."          inertial sample (decoded only when enabled)
type OutputParser struct {
	lines     LineBuffer
	ticks     int64
	decodeIMU bool
}

// NewOutputParser returns an OutputParser. IMU lines are decoded into
// ImuSample events only when decodeIMU is true.
func NewOutputParser(decodeIMU bool) *OutputParser {
	return &OutputParser{decodeIMU: decodeIMU}
}

// Feed implements Parser.
func (p *OutputParser) Feed(chunk []byte) ([]Event, error) {
	lines, err := p.lines.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range lines {
		if ev, ok := p.ParseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// ParseLine decodes one complete line.
func (p *OutputParser) ParseLine(line string) (ev Event, ok bool) {
	line = strings.TrimRight(line, "\r")

	switch {
	case strings.HasPrefix(line, "Mil"):
		millis, err := tabField(line)
		if err != nil {
			return Event{Kind: KindMalformed, Line: line}, true
		}
		p.ticks++
		return Event{Kind: KindOdometerTick, Odometer: OdometerTick{Millis: millis, Ticks: p.ticks}}, true

	case strings.HasPrefix(line, "Button"):
		state, err := tabField(line)
		if err != nil {
			return Event{Kind: KindMalformed, Line: line}, true
		}
		return Event{Kind: KindButtonOut, ButtonOut: int(state)}, true

	case strings.HasPrefix(line, "IMU"):
		if !p.decodeIMU {
			return Event{}, false
		}
		return Event{Kind: KindImuSample, Imu: ParseIMU(line)}, true
	}
	return Event{}, false
}

// Ticks returns the cumulative odometer count since the parser was created.
func (p *OutputParser) Ticks() int64 {
	return p.ticks
}

// IMUParser decodes a dedicated IMU transport. Lines other than "IMU ..." are
// ignored.
type IMUParser struct {
	lines LineBuffer
}

// NewIMUParser returns an IMUParser.
func NewIMUParser() *IMUParser {
	return &IMUParser{}
}

// Feed implements Parser.
func (p *IMUParser) Feed(chunk []byte) ([]Event, error) {
	lines, err := p.lines.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "IMU") {
			events = append(events, Event{Kind: KindImuSample, Imu: ParseIMU(line)})
		}
	}
	return events, nil
}

// ParseIMU decodes
//
//	IMU qx qy qz qw gx gy gz ax ay az
//
// Each group (quaternion, gyro, accel) that is missing or fails to parse is
// left zero-filled; the other groups are still decoded.
func ParseIMU(line string) ImuSample {
	fields := strings.Fields(line)
	var s ImuSample
	parseGroup(fields, 1, s.Quat[:])
	parseGroup(fields, 5, s.Gyro[:])
	parseGroup(fields, 8, s.Accel[:])
	return s
}

func parseGroup(fields []string, start int, dst []float64) {
	if start+len(dst) > len(fields) {
		return
	}
	vals := make([]float64, len(dst))
	for i := range dst {
		v, err := strconv.ParseFloat(fields[start+i], 64)
		if err != nil {
			return
		}
		vals[i] = v
	}
	copy(dst, vals)
}

// tabField parses the integer after the first tab, e.g. "Mil\t1234".
func tabField(line string) (int64, error) {
	_, value, found := strings.Cut(line, "\t")
	if !found {
		return 0, strconv.ErrSyntax
	}
	if i := strings.IndexByte(value, '\t'); i >= 0 {
		value = value[:i]
	}
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
