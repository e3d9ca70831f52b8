// Package camera owns the capture device and publishes frames into a
// bounded, lossy buffer that the tracking loop polls.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
)

// ErrDeviceUnavailable is returned when the capture device cannot be
// opened.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Frame is a snapshot of a color image buffer plus its capture time.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// Empty reports whether the frame holds no image.
func (f Frame) Empty() bool {
	return f.Image == nil
}

// Source reads single images from an underlying capture device.
type Source interface {
	// ReadFrame returns the next image from the device, blocking until
	// one is available or the context is done.
	ReadFrame(ctx context.Context) (image.Image, error)

	// Close releases the device.
	Close() error
}
