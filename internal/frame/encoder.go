package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Encoder turns raw frames into JPEG buffers at a tier's scale and quality.
type Encoder struct{}

// Encode resamples img to settings.ScalePercent of its native size and
// encodes it as JPEG at settings.JPEGQuality. At 100% the resample step is
// skipped entirely.
func (e *Encoder) Encode(img image.Image, settings TierSettings) ([]byte, error) {
	if settings.ScalePercent <= 0 || settings.ScalePercent > 100 {
		return nil, fmt.Errorf("invalid scale percent %d", settings.ScalePercent)
	}

	src := img
	if settings.ScalePercent != 100 {
		bounds := img.Bounds()
		w := bounds.Dx() * settings.ScalePercent / 100
		h := bounds.Dy() * settings.ScalePercent / 100
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("frame too small to scale to %d%%", settings.ScalePercent)
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		src = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: settings.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
