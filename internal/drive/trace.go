package drive

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/carputer/internal/fsutil"
)

// Plot file names written into the session directory when a session ends.
const (
	CommandsPlotName = "trace_commands.png"
	TimingPlotName   = "trace_timing.png"
)

var (
	steeringColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	throttleColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	speedColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	cycleColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TracePoint is what the loop knew when it recorded one frame.
type TracePoint struct {
	Frame    int
	Steering int
	Throttle int
	Speed    float64
	CycleMs  float64
}

// SessionTrace collects one point per recorded frame of the active session.
type SessionTrace struct {
	points []TracePoint
	units  string
}

// NewSessionTrace returns an empty trace. units labels the speed axis.
func NewSessionTrace(units string) *SessionTrace {
	return &SessionTrace{units: units}
}

// Add appends a point.
func (t *SessionTrace) Add(p TracePoint) {
	t.points = append(t.points, p)
}

// Len returns the number of points.
func (t *SessionTrace) Len() int {
	return len(t.points)
}

// Reset drops all points.
func (t *SessionTrace) Reset() {
	t.points = t.points[:0]
}

// WritePlots renders the trace into dir. Nothing is written for an empty
// trace.
func (t *SessionTrace) WritePlots(fsys fsutil.FileSystem, dir, title string) (int, error) {
	if len(t.points) == 0 {
		return 0, nil
	}

	steering := make(plotter.XYs, len(t.points))
	throttle := make(plotter.XYs, len(t.points))
	speed := make(plotter.XYs, len(t.points))
	cycle := make(plotter.XYs, len(t.points))
	for i, p := range t.points {
		x := float64(p.Frame)
		steering[i] = plotter.XY{X: x, Y: float64(p.Steering)}
		throttle[i] = plotter.XY{X: x, Y: float64(p.Throttle)}
		speed[i] = plotter.XY{X: x, Y: p.Speed}
		cycle[i] = plotter.XY{X: x, Y: p.CycleMs}
	}

	pCmd := plot.New()
	pCmd.Title.Text = fmt.Sprintf("%s - Commands", title)
	pCmd.X.Label.Text = "Frame"
	pCmd.Y.Label.Text = "Servo position"
	if err := addLine(pCmd, "steering", steering, steeringColor); err != nil {
		return 0, err
	}
	if err := addLine(pCmd, "throttle", throttle, throttleColor); err != nil {
		return 0, err
	}
	if err := savePlot(fsys, pCmd, filepath.Join(dir, CommandsPlotName)); err != nil {
		return 0, err
	}

	pTiming := plot.New()
	pTiming.Title.Text = fmt.Sprintf("%s - Speed and cycle time", title)
	pTiming.X.Label.Text = "Frame"
	pTiming.Y.Label.Text = fmt.Sprintf("Speed (%s) / cycle (ms)", t.units)
	if err := addLine(pTiming, "speed", speed, speedColor); err != nil {
		return 1, err
	}
	if err := addLine(pTiming, "cycle ms", cycle, cycleColor); err != nil {
		return 1, err
	}
	if err := savePlot(fsys, pTiming, filepath.Join(dir, TimingPlotName)); err != nil {
		return 1, err
	}
	return 2, nil
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", name, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func savePlot(fsys fsutil.FileSystem, p *plot.Plot, path string) error {
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
