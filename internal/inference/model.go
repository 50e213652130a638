// Package inference is the client side of the driving model. The model
// itself runs out of process; the drive loop only needs a steering and
// throttle prediction for a frame.
package inference

import (
	"context"
	"errors"
	"image"
)

// InputSize is the side length of the square RGB image the model expects.
const InputSize = 128

// Neutral is added to the model's raw regressions to produce servo positions.
const Neutral = 90.0

// ErrUnavailable is returned when the model backend cannot be reached.
var ErrUnavailable = errors.New("inference backend unavailable")

// Model predicts a command for a frame.
type Model interface {
	// Predict returns steering and throttle already offset to neutral 90.
	// Values are not clamped.
	Predict(ctx context.Context, frame image.Image, odometer int64, velocity float64) (steering, throttle float64, err error)
	// Ping checks that the backend is ready to serve predictions.
	Ping(ctx context.Context) error
}

// ConstantModel always predicts the same command. It is used for -dev runs.
type ConstantModel struct {
	Steering float64
	Throttle float64
	Calls    int
}

func (m *ConstantModel) Predict(ctx context.Context, frame image.Image, odometer int64, velocity float64) (float64, float64, error) {
	m.Calls++
	return m.Steering, m.Throttle, nil
}

func (m *ConstantModel) Ping(ctx context.Context) error { return nil }
