//go:build !linux
// +build !linux

package camera

import (
	"github.com/pkg/errors"
)

// OpenWebcam is only implemented for linux.
func OpenWebcam(path string, width, height int) (Source, error) {
	return nil, errors.Wrap(ErrDeviceUnavailable, "webcam capture not implemented on this platform")
}
