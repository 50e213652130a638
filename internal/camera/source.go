// Package camera supplies frames to the drive loop. Frames are read
// synchronously, one per cycle.
package camera

import (
	"errors"
	"fmt"
	"image"

	"github.com/banshee-data/carputer/internal/monitoring"
)

// ErrNoFrame is returned when a source has no frame to give.
var ErrNoFrame = errors.New("camera: no frame available")

// Source produces camera frames.
type Source interface {
	// Read returns the next frame.
	Read() (image.Image, error)
	Close() error
	Name() string
}

// Opener opens the camera at a device index.
type Opener func(index int) (Source, error)

// OpenWithFallback opens the camera at primary and, if that fails, makes one
// attempt at alternate. Opening counts as successful only if a first frame
// can be read.
func OpenWithFallback(open Opener, primary, alternate int) (Source, error) {
	src, err := openAndProbe(open, primary)
	if err == nil {
		return src, nil
	}
	monitoring.Logf("camera %d unavailable (%v), trying camera %d", primary, err, alternate)

	src, altErr := openAndProbe(open, alternate)
	if altErr != nil {
		return nil, fmt.Errorf("no camera: index %d: %v; index %d: %w", primary, err, alternate, altErr)
	}
	return src, nil
}

func openAndProbe(open Opener, index int) (Source, error) {
	src, err := open(index)
	if err != nil {
		return nil, err
	}
	if _, err := src.Read(); err != nil {
		src.Close()
		return nil, fmt.Errorf("read first frame from %s: %w", src.Name(), err)
	}
	return src, nil
}
