package velocity

import (
	"math"
	"testing"
)

func feed(e *Estimator, ticks, millis []int64) []float64 {
	out := make([]float64, len(ticks))
	for i := range ticks {
		out[i] = e.Update(ticks[i], millis[i])
	}
	return out
}

func TestEstimator_FullWindow(t *testing.T) {
	e := NewEstimator(3)
	got := feed(e, []int64{0, 0, 0, 5}, []int64{0, 10, 20, 30})

	for i := 0; i < 3; i++ {
		if got[i] != 0 {
			t.Errorf("sample %d: velocity = %v, want 0 while window fills", i, got[i])
		}
	}
	if want := 5.0 / 30.0; math.Abs(got[3]-want) > 1e-9 {
		t.Errorf("sample 3: velocity = %v, want %v", got[3], want)
	}
	if math.Abs(e.Velocity()-0.1667) > 1e-4 {
		t.Errorf("Velocity() = %v, want ~0.1667", e.Velocity())
	}
}

func TestEstimator_NoMovement(t *testing.T) {
	e := NewEstimator(1)
	got := feed(e, []int64{3, 3}, []int64{10, 20})
	if got[1] != 0 {
		t.Errorf("velocity = %v, want 0 when ticks did not change", got[1])
	}
}

func TestEstimator_Guards(t *testing.T) {
	tests := []struct {
		name   string
		ticks  []int64
		millis []int64
		want   float64
	}{
		{"moving", []int64{10, 12}, []int64{100, 120}, 0.1},
		{"clock went backwards", []int64{10, 12}, []int64{100, 90}, 0},
		{"clock stalled", []int64{10, 12}, []int64{100, 100}, 0},
		{"counter reset", []int64{10, 2}, []int64{100, 200}, 0},
		{"stopped", []int64{10, 10}, []int64{100, 200}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(1)
			got := feed(e, tt.ticks, tt.millis)
			if math.Abs(got[len(got)-1]-tt.want) > 1e-9 {
				t.Errorf("velocity = %v, want %v", got[len(got)-1], tt.want)
			}
		})
	}
}

func TestEstimator_WindowBoundedFIFO(t *testing.T) {
	e := NewEstimator(4)
	for i := int64(0); i < 20; i++ {
		e.Update(i*2, i*10)
		if e.Len() > e.Depth() {
			t.Fatalf("window length %d exceeds depth %d", e.Len(), e.Depth())
		}
	}
	// oldest retained sample is i=16 -> (32, 160); next sample (40, 200)
	if got := e.Update(40, 200); math.Abs(got-8.0/40.0) > 1e-9 {
		t.Errorf("velocity = %v, want %v", got, 8.0/40.0)
	}
}

func TestEstimator_ResetAndDepthClamp(t *testing.T) {
	e := NewEstimator(0)
	if e.Depth() != 1 {
		t.Errorf("Depth() = %d, want 1", e.Depth())
	}
	e.Update(1, 1)
	e.Update(5, 9)
	e.Reset()
	if e.Len() != 0 || e.Velocity() != 0 {
		t.Errorf("after Reset: len=%d velocity=%v", e.Len(), e.Velocity())
	}
	if got := e.Update(9, 20); got != 0 {
		t.Errorf("first sample after Reset = %v, want 0", got)
	}
}
