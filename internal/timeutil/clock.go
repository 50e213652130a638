// Package timeutil holds the clock used for frame pacing and the output stop
// sequence, so both can run against virtual time in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the drive loop depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// PaceUntil sleeps in step increments until budget has elapsed since start
// and returns the number of sleeps taken. It returns 0 when the budget is
// already spent; an overrun is never paid back.
func PaceUntil(c Clock, start time.Time, budget, step time.Duration) int {
	if step <= 0 {
		step = time.Millisecond
	}
	n := 0
	for c.Since(start) < budget {
		c.Sleep(step)
		n++
	}
	return n
}

// MockClock is virtual time for tests. Sleep moves time forward by the
// requested amount instead of blocking.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep runs after every Sleep with the new time, for tests that need
	// something to happen while the loop is pacing.
	OnSleep func(now time.Time)
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves time forward without recording a sleep, standing in for
// work that takes time.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	now, hook := c.now, c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}
}

// Sleeps returns a copy of every duration passed to Sleep since the last
// ResetSleeps.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *MockClock) ResetSleeps() {
	c.mu.Lock()
	c.sleeps = nil
	c.mu.Unlock()
}
