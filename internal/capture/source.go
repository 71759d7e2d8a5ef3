// Package capture drives the single screen-grab loop that feeds the frame
// cache, and owns the viewer-count-adaptive frame rate policy.
package capture

import "image"

// Source yields one raw frame per Grab call. Implementations are used from
// a single goroutine at a time.
type Source interface {
	Grab() (image.Image, error)
	Close() error
}
