//go:build !gst

package capture

import "errors"

// NewScreenSource requires the gst build tag; without it only the synthetic
// source is available.
func NewScreenSource() (Source, error) {
	return nil, errors.New("screen capture requires building with -tags gst")
}
