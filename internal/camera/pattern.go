package camera

import (
	"fmt"
	"image"
	"image/color"
)

// PatternSource generates a moving test pattern. It stands in for the camera
// when running without hardware.
type PatternSource struct {
	width, height int
	frame         int
}

// NewPatternSource returns a PatternSource producing width x height frames.
func NewPatternSource(width, height int) *PatternSource {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &PatternSource{width: width, height: height}
}

// Read returns the next frame: diagonal stripes that shift one pixel per
// frame.
func (p *PatternSource) Read() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	shift := p.frame
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			v := uint8((x + y + shift) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(y * 255 / p.height), B: 255 - v, A: 255})
		}
	}
	p.frame++
	return img, nil
}

// Frames returns the number of frames generated so far.
func (p *PatternSource) Frames() int {
	return p.frame
}

func (p *PatternSource) Close() error { return nil }

func (p *PatternSource) Name() string {
	return fmt.Sprintf("pattern %dx%d", p.width, p.height)
}
