// Package epipolar implements two-view geometry: fundamental/essential matrix
// estimation, relative pose recovery, and linear triangulation.
//
// Without a calibration step, intrinsics are heuristic (focal length taken as
// the image width, principal point at the image center), so every pose and
// every triangulated point inherits that approximation's error.
package epipolar

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Intrinsics is a pinhole camera intrinsics estimate.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// EstimateIntrinsics builds the heuristic intrinsics for an uncalibrated
// camera of the given image size.
func EstimateIntrinsics(width, height int) *Intrinsics {
	f := float64(width)
	return &Intrinsics{
		Width:  width,
		Height: height,
		Fx:     f,
		Fy:     f,
		Ppx:    float64(width) / 2.,
		Ppy:    float64(height) / 2.,
	}
}

// EstimateIntrinsicsFromImage builds heuristic intrinsics sized to img.
func EstimateIntrinsicsFromImage(img image.Image) *Intrinsics {
	size := img.Bounds().Size()
	return EstimateIntrinsics(size.X, size.Y)
}

// CameraMatrix returns the 3x3 camera matrix K.
func (i *Intrinsics) CameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		i.Fx, 0, i.Ppx,
		0, i.Fy, i.Ppy,
		0, 0, 1,
	})
}
