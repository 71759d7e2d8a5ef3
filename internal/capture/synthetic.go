package capture

import (
	"image"
	"image/color"
	"math"
	"sync/atomic"
)

// Synthetic generates moving test-pattern frames. Used by the -mock flag
// and by tests, so the engine runs anywhere without a display server.
type Synthetic struct {
	width  int
	height int
	tick   atomic.Uint64
}

func NewSynthetic(width, height int) *Synthetic {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 360
	}
	return &Synthetic{width: width, height: height}
}

func (s *Synthetic) Grab() (image.Image, error) {
	t := float64(s.tick.Add(1))
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	// Scrolling diagonal gradient with a sinusoidal sweep, so consecutive
	// frames differ and compress like real screen content.
	phase := math.Sin(t/10) * 64
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := uint8((x + y + int(t)*4))
			img.SetRGBA(x, y, color.RGBA{
				R: v,
				G: uint8(int(phase) + y),
				B: uint8(x ^ y),
				A: 255,
			})
		}
	}
	return img, nil
}

func (s *Synthetic) Close() error {
	return nil
}
