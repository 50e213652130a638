// Package drive runs the fixed-rate control loop: it drains the serial
// transports, lets the arbiter decide a command, captures and records frames,
// asks the model for predictions and writes the command to the servos.
package drive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/banshee-data/carputer/internal/camera"
	"github.com/banshee-data/carputer/internal/control"
	"github.com/banshee-data/carputer/internal/fsutil"
	"github.com/banshee-data/carputer/internal/inference"
	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/output"
	"github.com/banshee-data/carputer/internal/session"
	"github.com/banshee-data/carputer/internal/telemetry"
	"github.com/banshee-data/carputer/internal/timeutil"
	"github.com/banshee-data/carputer/internal/transport"
	"github.com/banshee-data/carputer/internal/units"
	"github.com/banshee-data/carputer/internal/velocity"
)

const (
	DefaultFrameBudget   = time.Second / 30
	DefaultPaceStep      = time.Millisecond
	DefaultOdoDelta      = 10
	DefaultTicksPerMeter = 87.0
)

// Options are the loop's tunables.
type Options struct {
	Mode          control.Mode
	FrameBudget   time.Duration
	PaceStep      time.Duration
	StopStepDelay time.Duration
	// OdoDelta is the depth of the velocity window.
	OdoDelta   int
	Thresholds control.Thresholds

	ManualRoot     string
	AutonomousRoot string
	// ScratchPath receives the latest frame when debug frames are on and the
	// frame is not being recorded. Debug frames also make idle cycles capture.
	ScratchPath string
	DebugFrames bool

	DecodeIMU     bool
	TicksPerMeter float64
	SpeedUnits    string
}

func (o Options) withDefaults() Options {
	if o.FrameBudget <= 0 {
		o.FrameBudget = DefaultFrameBudget
	}
	if o.PaceStep <= 0 {
		o.PaceStep = DefaultPaceStep
	}
	if o.StopStepDelay <= 0 {
		o.StopStepDelay = output.DefaultStopStepDelay
	}
	if o.OdoDelta <= 0 {
		o.OdoDelta = DefaultOdoDelta
	}
	if o.TicksPerMeter <= 0 {
		o.TicksPerMeter = DefaultTicksPerMeter
	}
	if !units.IsValid(o.SpeedUnits) {
		o.SpeedUnits = units.MPS
	}
	return o
}

// Deps are the loop's collaborators. IMU, Camera, Model and Recorder may be
// nil; the loop skips what it cannot do. Autonomous mode without a Camera or
// Model is rejected by New.
type Deps struct {
	Input    transport.Transport
	Output   transport.Transport
	IMU      transport.Transport
	Camera   camera.Source
	Model    inference.Model
	Recorder *session.Recorder
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
}

// Loop is the frame scheduler. All methods except Status must be called from
// one goroutine.
type Loop struct {
	opts Options

	input, out, imu transport.Transport
	inParser        *telemetry.InputParser
	outParser       *telemetry.OutputParser
	imuParser       *telemetry.IMUParser

	camera   camera.Source
	model    inference.Model
	recorder *session.Recorder
	fs       fsutil.FileSystem
	clock    timeutil.Clock

	writer    *output.Writer
	arbiter   *control.Arbiter
	estimator *velocity.Estimator
	stats     *CycleStats
	trace     *SessionTrace

	frame     int64
	ticks     int64
	millis    int64
	buttonOut int
	buttonIn  bool
	rc        telemetry.SteeringSample
	haveRC    bool
	imuSample *telemetry.ImuSample
	velocity  float64

	status atomic.Pointer[Status]
}

// New wires a loop. The output writer and arbiter are created here so the
// arbiter's stop sequence drives the same writer the loop applies commands
// through.
func New(opts Options, deps Deps) (*Loop, error) {
	opts = opts.withDefaults()
	if deps.Input == nil || deps.Output == nil {
		return nil, errors.New("drive: input and output transports are required")
	}
	if opts.Mode.Autonomous && (deps.Camera == nil || deps.Model == nil) {
		return nil, errors.New("drive: autonomous mode needs a camera and a model")
	}
	if opts.Mode.Recording && deps.Camera == nil {
		return nil, errors.New("drive: recording needs a camera")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.FS == nil {
		deps.FS = fsutil.OSFileSystem{}
	}

	l := &Loop{
		opts:      opts,
		input:     deps.Input,
		out:       deps.Output,
		imu:       deps.IMU,
		inParser:  telemetry.NewInputParser(),
		outParser: telemetry.NewOutputParser(opts.DecodeIMU),
		imuParser: telemetry.NewIMUParser(),
		camera:    deps.Camera,
		model:     deps.Model,
		recorder:  deps.Recorder,
		fs:        deps.FS,
		clock:     deps.Clock,
		estimator: velocity.NewEstimator(opts.OdoDelta),
		stats:     NewCycleStats(DefaultStatsWindow),
		trace:     NewSessionTrace(opts.SpeedUnits),
	}
	l.writer = output.NewWriter(deps.Output, deps.Clock, opts.StopStepDelay)
	l.arbiter = control.NewArbiter(opts.Mode, opts.Thresholds, l.writer, func() int64 { return l.frame })
	l.publish(0)
	return l, nil
}

// Run cycles until ctx is cancelled, then halts the car and closes any open
// session.
func (l *Loop) Run(ctx context.Context) error {
	monitoring.Logf("drive loop started: mode=%s budget=%s", l.opts.Mode, l.opts.FrameBudget)
	for {
		select {
		case <-ctx.Done():
			l.Shutdown()
			return nil
		default:
		}
		l.Cycle(ctx)
	}
}

// Shutdown stops the car and ends the active session.
func (l *Loop) Shutdown() {
	if err := l.writer.Stop(); err != nil {
		monitoring.Logf("stop on shutdown: %v", err)
	}
	l.endSession()
	monitoring.Logf("drive loop stopped after %d cycles: %s", l.frame, l.stats.Summary())
}

// Cycle runs one iteration including pacing.
func (l *Loop) Cycle(ctx context.Context) {
	start := l.clock.Now()
	l.frame++

	rc := l.pollInput()
	l.pollOutput()
	l.pollIMU()

	step := l.arbiter.Update(control.Inputs{RC: rc, ButtonOut: l.buttonOut, Ticks: l.ticks})
	if step.Stopped {
		l.endSession()
	}
	if step.Started {
		l.startSession()
	}

	l.velocity = l.estimator.Update(l.ticks, l.millis)

	var frame image.Image
	if l.opts.DebugFrames || (l.arbiter.Running() && (l.opts.Mode.Recording || l.opts.Mode.Autonomous)) {
		frame = l.capture()
	}

	if frame != nil && l.arbiter.NeedsPrediction() {
		l.predict(ctx, frame)
	}

	recording := false
	if frame != nil {
		if l.recording() {
			recording = l.record(frame)
		} else if l.opts.DebugFrames {
			if err := session.WriteScratch(l.fs, l.opts.ScratchPath, frame); err != nil {
				monitoring.Logf("%d: scratch frame: %v", l.frame, err)
			}
		}
	}

	if err := l.writer.Apply(l.arbiter.Command()); err != nil {
		monitoring.Logf("%d: output: %v", l.frame, err)
	}

	work := l.clock.Since(start)
	l.stats.Add(work, work > l.opts.FrameBudget)
	if recording {
		l.trace.Add(TracePoint{
			Frame:    l.recorder.Current().FrameIndex,
			Steering: l.arbiter.Command().Steering,
			Throttle: l.arbiter.Command().Throttle,
			Speed:    l.speed(),
			CycleMs:  float64(work) / float64(time.Millisecond),
		})
	}
	l.publish(work)

	timeutil.PaceUntil(l.clock, start, l.opts.FrameBudget, l.opts.PaceStep)
}

// pollInput drains the radio controller and returns the last steering
// sample received this cycle.
func (l *Loop) pollInput() *telemetry.SteeringSample {
	var rc *telemetry.SteeringSample
	for _, ev := range l.drain("input", l.input, l.inParser) {
		switch ev.Kind {
		case telemetry.KindSteeringSample:
			s := ev.Steering
			rc = &s
			l.rc, l.haveRC = s, true
		case telemetry.KindButtonIn:
			l.buttonIn = ev.ButtonIn
			monitoring.Logf("%d: input button %t", l.frame, ev.ButtonIn)
		default:
			monitoring.Debugf("%d: input: %s", l.frame, ev)
		}
	}
	return rc
}

func (l *Loop) pollOutput() {
	for _, ev := range l.drain("output", l.out, l.outParser) {
		switch ev.Kind {
		case telemetry.KindOdometerTick:
			l.ticks, l.millis = ev.Odometer.Ticks, ev.Odometer.Millis
		case telemetry.KindButtonOut:
			l.buttonOut = ev.ButtonOut
		case telemetry.KindImuSample:
			s := ev.Imu
			l.imuSample = &s
		default:
			monitoring.Debugf("%d: output: %s", l.frame, ev)
		}
	}
}

func (l *Loop) pollIMU() {
	if l.imu == nil {
		return
	}
	for _, ev := range l.drain("imu", l.imu, l.imuParser) {
		if ev.Kind == telemetry.KindImuSample {
			s := ev.Imu
			l.imuSample = &s
		}
	}
}

// drain reads whatever the transport has buffered and parses it. Read and
// decode failures are logged and yield no events.
func (l *Loop) drain(name string, t transport.Transport, p telemetry.Parser) []telemetry.Event {
	chunk, err := t.ReadAvailable()
	if err != nil {
		monitoring.Logf("%d: read %s: %v", l.frame, name, err)
	}
	if len(chunk) == 0 {
		return nil
	}
	events, err := p.Feed(chunk)
	if err != nil {
		monitoring.Logf("%d: %s: %v, buffer discarded", l.frame, name, err)
		return nil
	}
	return events
}

func (l *Loop) capture() image.Image {
	frame, err := l.camera.Read()
	if err != nil {
		monitoring.Logf("%d: capture from %s: %v", l.frame, l.camera.Name(), err)
		return nil
	}
	return frame
}

func (l *Loop) predict(ctx context.Context, frame image.Image) {
	steering, throttle, err := l.model.Predict(ctx, frame, l.arbiter.RelativeOdometer(l.ticks), l.velocity)
	if err != nil {
		monitoring.Logf("%d: predict: %v", l.frame, err)
		return
	}
	l.arbiter.SetPrediction(steering, throttle)
	monitoring.Debugf("%d: predicted %s", l.frame, l.arbiter.Command())
}

func (l *Loop) recording() bool {
	return l.opts.Mode.Recording && l.arbiter.Running() && l.recorder != nil && l.recorder.Current() != nil
}

func (l *Loop) record(frame image.Image) bool {
	cmd := l.arbiter.Command()
	labels := session.Labels{
		Steering: cmd.Steering,
		Throttle: cmd.Throttle,
		Millis:   l.millis,
		Odometer: l.arbiter.RelativeOdometer(l.ticks),
		Velocity: l.velocity,
	}
	if l.opts.DecodeIMU && l.imuSample != nil {
		s := *l.imuSample
		labels.IMU = &s
	}
	if _, err := l.recorder.Record(frame, labels); err != nil {
		monitoring.Logf("%d: record frame: %v", l.frame, err)
		return false
	}
	return true
}

func (l *Loop) startSession() {
	if !l.opts.Mode.Recording || l.recorder == nil {
		return
	}
	root, mode := l.opts.ManualRoot, session.ModeManual
	if l.opts.Mode.Autonomous {
		root, mode = l.opts.AutonomousRoot, session.ModeAutonomous
	}
	s, err := l.recorder.Start(root, mode)
	if err != nil {
		monitoring.Logf("%d: start session: %v", l.frame, err)
		return
	}
	l.stats.Reset()
	l.trace.Reset()
	monitoring.Logf("%d: Recording to %s", l.frame, s.Dir)
}

func (l *Loop) endSession() {
	if l.recorder == nil {
		return
	}
	s := l.recorder.Current()
	if s == nil {
		return
	}
	monitoring.Logf("%d: session %s cycle times: %s", l.frame, s.ID, l.stats.Summary())
	title := fmt.Sprintf("%s episode %d", s.Mode, s.EpisodeIndex)
	if _, err := l.trace.WritePlots(l.fs, s.Dir, title); err != nil {
		monitoring.Logf("%d: session plots: %v", l.frame, err)
	}
	l.trace.Reset()
	if err := l.recorder.End(); err != nil {
		monitoring.Logf("%d: end session: %v", l.frame, err)
	}
}

func (l *Loop) speed() float64 {
	mps := units.TicksPerMilliToMPS(l.velocity, l.opts.TicksPerMeter)
	return units.ConvertSpeed(mps, l.opts.SpeedUnits)
}

// Frame returns the number of cycles started.
func (l *Loop) Frame() int64 {
	return l.frame
}

// Arbiter exposes the loop's arbiter.
func (l *Loop) Arbiter() *control.Arbiter {
	return l.arbiter
}

// Stats exposes the loop's cycle statistics.
func (l *Loop) Stats() *CycleStats {
	return l.stats
}
