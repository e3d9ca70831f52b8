//go:build linux
// +build linux

package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

const (
	// from https://github.com/blackjack/webcam/blob/master/examples/http_mjpeg_streamer/webcam.go
	v4l2PixFmtYuyv = 0x56595559
	jpegVideo      = 1196444237
)

type webcamSource struct {
	cam           *webcam.Webcam
	format        webcam.PixelFormat
	width, height uint32
}

// OpenWebcam opens the video device at path and requests the given
// resolution; the actual resolution may differ and callers must not
// assume exact dimensions. It returns ErrDeviceUnavailable when the
// device cannot be opened.
func OpenWebcam(path string, width, height int) (Source, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "cannot open webcam [%s]: %s", path, err)
	}

	formats := cam.GetSupportedFormats()
	format := webcam.PixelFormat(0)
	goodFormats := []webcam.PixelFormat{v4l2PixFmtYuyv, jpegVideo}
	for _, f := range goodFormats {
		if _, ok := formats[f]; !ok {
			continue
		}
		if len(cam.GetSupportedFrameSizes(f)) == 0 {
			continue
		}
		format = f
		break
	}
	if format == 0 {
		return nil, errors.Errorf("no supported format, supported ones: %v", formats)
	}

	format, w, h, err := cam.SetImageFormat(format, uint32(width), uint32(height))
	if err != nil {
		return nil, errors.Errorf("cannot set image format: %s", err)
	}

	if err := cam.SetBufferCount(2); err != nil {
		return nil, errors.Errorf("cannot set buffer count for %s: %s", path, err)
	}
	if err := cam.StartStreaming(); err != nil {
		return nil, errors.Errorf("cannot start webcam stream for %s: %s", path, err)
	}

	return &webcamSource{cam, format, w, h}, nil
}

func (s *webcamSource) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.cam.WaitForFrame(1); err != nil {
		return nil, errors.Errorf("couldn't get webcam frame: %s", err)
	}
	frame, err := s.cam.ReadFrame()
	if err != nil {
		return nil, errors.Errorf("couldn't read webcam frame: %s", err)
	}
	if len(frame) == 0 {
		return nil, errors.New("empty webcam frame")
	}
	return s.decode(frame)
}

func (s *webcamSource) decode(frame []byte) (image.Image, error) {
	switch s.format {
	case v4l2PixFmtYuyv:
		yuyv := image.NewYCbCr(image.Rect(0, 0, int(s.width), int(s.height)), image.YCbCrSubsampleRatio422)
		for i := range yuyv.Cb {
			ii := i * 4
			yuyv.Y[i*2] = frame[ii]
			yuyv.Y[i*2+1] = frame[ii+2]
			yuyv.Cb[i] = frame[ii+1]
			yuyv.Cr[i] = frame[ii+3]
		}
		return yuyv, nil
	case jpegVideo:
		return jpeg.Decode(bytes.NewReader(frame))
	default:
		return nil, errors.Errorf("unexpected pixel format %v", s.format)
	}
}

func (s *webcamSource) Close() error {
	return s.cam.Close()
}
