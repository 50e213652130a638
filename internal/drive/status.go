package drive

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/carputer/internal/httputil"
	"github.com/banshee-data/carputer/internal/output"
	"github.com/banshee-data/carputer/internal/security"
	"github.com/banshee-data/carputer/internal/telemetry"
	"github.com/banshee-data/carputer/internal/units"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var statusTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/status.html.tmpl"))

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Status is a snapshot of the loop published once per cycle. Snapshots are
// never modified after publication.
type Status struct {
	Time      time.Time                 `json:"time"`
	Frame     int64                     `json:"frame"`
	Mode      string                    `json:"mode"`
	State     string                    `json:"state"`
	Command   output.CommandPair        `json:"command"`
	RC        *telemetry.SteeringSample `json:"rc,omitempty"`
	ButtonIn  bool                      `json:"button_in"`
	ButtonOut int                       `json:"button_out"`
	Ticks     int64                     `json:"ticks"`
	Millis    int64                     `json:"millis"`
	Odometer  int64                     `json:"odometer"`
	DistanceM float64                   `json:"distance_m"`
	Velocity  float64                   `json:"velocity_ticks_per_ms"`
	Speed     string                    `json:"speed"`
	IMU       *telemetry.ImuSample      `json:"imu,omitempty"`

	SessionID     string `json:"session_id,omitempty"`
	SessionDir    string `json:"session_dir,omitempty"`
	SessionFrames int    `json:"session_frames"`

	WorkMs float64      `json:"work_ms"`
	Cycles CycleSummary `json:"cycles"`
	// recent work times in ms, oldest first
	Recent []float64 `json:"-"`
}

func (l *Loop) publish(work time.Duration) {
	s := &Status{
		Time:      l.clock.Now(),
		Frame:     l.frame,
		Mode:      l.opts.Mode.String(),
		State:     l.arbiter.State().String(),
		Command:   l.arbiter.Command(),
		ButtonIn:  l.buttonIn,
		ButtonOut: l.buttonOut,
		Ticks:     l.ticks,
		Millis:    l.millis,
		Odometer:  l.arbiter.RelativeOdometer(l.ticks),
		DistanceM: units.TicksToMeters(l.arbiter.RelativeOdometer(l.ticks), l.opts.TicksPerMeter),
		Velocity:  l.velocity,
		Speed:     units.FormatSpeed(l.velocity, l.opts.TicksPerMeter, l.opts.SpeedUnits),
		WorkMs:    float64(work) / float64(time.Millisecond),
		Cycles:    l.stats.Summary(),
		Recent:    l.stats.Samples(),
	}
	if l.haveRC {
		rc := l.rc
		s.RC = &rc
	}
	if l.imuSample != nil {
		imu := *l.imuSample
		s.IMU = &imu
	}
	if l.recorder != nil {
		if cur := l.recorder.Current(); cur != nil {
			s.SessionID, s.SessionDir, s.SessionFrames = cur.ID, cur.Dir, cur.FrameIndex
		}
	}
	l.status.Store(s)
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (l *Loop) Status() *Status {
	return l.status.Load()
}

// AttachAdminRoutes mounts the loop status pages under /debug/ on mux.
func (l *Loop) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Drive state", func() any {
		s := l.Status()
		return fmt.Sprintf("%s (%s) frame %d", s.State, s.Mode, s.Frame)
	})

	debug.HandleFunc("drive", "Drive loop status", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := statusTemplate.Execute(buf, l.Status()); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("drive.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, l.Status())
	})

	debug.HandleFunc("drive-cycles", "Recent cycle work times", l.handleCycleChart)
	debug.HandleFunc("drive-frame", "Latest camera frame", l.handleFrame)
}

// handleFrame serves the scratch frame, or with ?name= a frame from the
// session being recorded.
func (l *Loop) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	path := l.opts.ScratchPath
	if name := r.URL.Query().Get("name"); name != "" {
		dir := l.Status().SessionDir
		if dir == "" {
			httputil.WriteJSONError(w, http.StatusNotFound, "not recording")
			return
		}
		path = filepath.Join(dir, name)
		if filepath.Ext(path) != ".png" {
			httputil.WriteJSONError(w, http.StatusBadRequest, "only .png frames are served")
			return
		}
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "invalid frame name")
			return
		}
	}

	data, err := l.fs.ReadFile(path)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "frame not found")
		return
	}
	httputil.WriteImage(w, "image/png", data)
}

// handleCycleChart renders the recent cycle work times against the frame
// budget.
func (l *Loop) handleCycleChart(w http.ResponseWriter, r *http.Request) {
	s := l.Status()
	budgetMs := float64(l.opts.FrameBudget) / float64(time.Millisecond)

	x := make([]int, len(s.Recent))
	work := make([]opts.LineData, len(s.Recent))
	budget := make([]opts.LineData, len(s.Recent))
	first := s.Frame - int64(len(s.Recent)) + 1
	for i, v := range s.Recent {
		x[i] = int(first) + i
		work[i] = opts.LineData{Value: v}
		budget[i] = opts.LineData{Value: budgetMs}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle work time", Subtitle: s.Cycles.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x).
		AddSeries("work", work).
		AddSeries("budget", budget)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
