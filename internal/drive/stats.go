package drive

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultStatsWindow is the number of recent cycles CycleStats summarises.
const DefaultStatsWindow = 300

// CycleSummary describes the work time of recent cycles. Times are in
// milliseconds and exclude pacing sleeps.
type CycleSummary struct {
	Count    int64   `json:"count"`
	Overruns int64   `json:"overruns"`
	Window   int     `json:"window"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	P95Ms    float64 `json:"p95_ms"`
	MaxMs    float64 `json:"max_ms"`
}

func (s CycleSummary) String() string {
	return fmt.Sprintf("%d cycles (%d over budget), last %d: mean %.2fms sd %.2fms p95 %.2fms max %.2fms",
		s.Count, s.Overruns, s.Window, s.MeanMs, s.StdDevMs, s.P95Ms, s.MaxMs)
}

// CycleStats keeps a ring of recent cycle work times. It is owned by the
// loop goroutine.
type CycleStats struct {
	window   []float64
	next     int
	full     bool
	count    int64
	overruns int64
}

// NewCycleStats returns stats over the last size cycles.
func NewCycleStats(size int) *CycleStats {
	if size < 1 {
		size = DefaultStatsWindow
	}
	return &CycleStats{window: make([]float64, size)}
}

// Add records one cycle.
func (c *CycleStats) Add(work time.Duration, overrun bool) {
	c.window[c.next] = float64(work) / float64(time.Millisecond)
	c.next++
	if c.next == len(c.window) {
		c.next = 0
		c.full = true
	}
	c.count++
	if overrun {
		c.overruns++
	}
}

// Samples returns the windowed work times in milliseconds, oldest first.
func (c *CycleStats) Samples() []float64 {
	if !c.full {
		return append([]float64(nil), c.window[:c.next]...)
	}
	out := make([]float64, 0, len(c.window))
	out = append(out, c.window[c.next:]...)
	return append(out, c.window[:c.next]...)
}

// Summary computes statistics over the current window.
func (c *CycleStats) Summary() CycleSummary {
	s := CycleSummary{Count: c.count, Overruns: c.overruns}
	xs := c.Samples()
	s.Window = len(xs)
	if len(xs) == 0 {
		return s
	}
	if len(xs) == 1 {
		s.MeanMs, s.P95Ms, s.MaxMs = xs[0], xs[0], xs[0]
		return s
	}
	s.MeanMs, s.StdDevMs = stat.MeanStdDev(xs, nil)
	s.MaxMs = floats.Max(xs)
	sort.Float64s(xs)
	s.P95Ms = stat.Quantile(0.95, stat.Empirical, xs, nil)
	return s
}

// Reset clears the window and counters.
func (c *CycleStats) Reset() {
	for i := range c.window {
		c.window[i] = 0
	}
	c.next, c.full = 0, false
	c.count, c.overruns = 0, 0
}
