// Package velocity estimates the car's speed from the odometer tick counter
// and the controller's millisecond clock.
package velocity

// Estimator keeps the last Depth (tick, millis) samples and compares each new
// sample against the oldest one. The window trades Depth cycles of lag for
// rejection of jitter in the tick timing.
type Estimator struct {
	depth  int
	ticks  []int64
	millis []int64
	last   float64
}

// NewEstimator returns an Estimator with a window of depth samples. depth is
// clamped to at least 1.
func NewEstimator(depth int) *Estimator {
	if depth < 1 {
		depth = 1
	}
	return &Estimator{
		depth:  depth,
		ticks:  make([]int64, 0, depth+1),
		millis: make([]int64, 0, depth+1),
	}
}

// Update pushes the current cumulative tick count and controller time and
// returns the velocity in ticks per millisecond. It is called once per control
// cycle, not once per tick.
func (e *Estimator) Update(ticks, millis int64) float64 {
	e.last = e.estimate(ticks, millis)

	e.ticks = append(e.ticks, ticks)
	e.millis = append(e.millis, millis)
	if len(e.ticks) > e.depth {
		e.ticks = append(e.ticks[:0], e.ticks[1:]...)
		e.millis = append(e.millis[:0], e.millis[1:]...)
	}
	return e.last
}

func (e *Estimator) estimate(ticks, millis int64) float64 {
	if len(e.ticks) < e.depth {
		return 0
	}
	oldTicks, oldMillis := e.ticks[0], e.millis[0]
	switch {
	case ticks == oldTicks:
		// stopped
		return 0
	case millis <= oldMillis:
		return 0
	case oldTicks >= ticks:
		// counter reset
		return 0
	}
	return float64(ticks-oldTicks) / float64(millis-oldMillis)
}

// Velocity returns the value computed by the most recent Update.
func (e *Estimator) Velocity() float64 {
	return e.last
}

// Depth returns the window size.
func (e *Estimator) Depth() int {
	return e.depth
}

// Len returns the number of samples currently held, never more than Depth.
func (e *Estimator) Len() int {
	return len(e.ticks)
}

// Reset empties the window.
func (e *Estimator) Reset() {
	e.ticks = e.ticks[:0]
	e.millis = e.millis[:0]
	e.last = 0
}
