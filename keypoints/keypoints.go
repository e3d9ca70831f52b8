// Package keypoints implements sparse image keypoints and binary descriptors:
// FAST corners, BRIEF descriptors, their ORB combination, and descriptor
// matching.
package keypoints

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/viam-labs/monofusion/vimage"
)

type (
	// KeyPoint is an image.Point that contains the coordinates of a keypoint.
	KeyPoint = image.Point
	// KeyPoints is a set of keypoints.
	KeyPoints = []image.Point
	// Descriptor is a binary descriptor stored as packed uint64 words.
	Descriptor = []uint64
	// Descriptors is a set of descriptors.
	Descriptors = []Descriptor
)

// computeMaskOrientationFAST creates the circular mask used to compute corner
// orientations over a 31x31 patch.
func computeMaskOrientationFAST() *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, 31, 31))
	indices := []int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}
	for i := -15; i < 16; i++ {
		for j := -indices[int(math.Abs(float64(i)))]; j < indices[int(math.Abs(float64(i)))]+1; j++ {
			mask.Set(j+15, i+15, color.Gray{1})
		}
	}
	return mask
}

// computeKeypointsOrientations computes the intensity-centroid orientation of
// each keypoint from the moments of its masked 31x31 patch.
func computeKeypointsOrientations(img *image.Gray, kps KeyPoints) ([]float64, error) {
	nRows, nCols := 31, 31
	nRows2 := (nRows - 1) / 2
	nCols2 := (nCols - 1) / 2
	mask := computeMaskOrientationFAST()
	padded, err := vimage.PaddingGray(img, image.Point{nCols, nRows}, image.Point{nCols2, nRows2}, vimage.BorderConstant)
	if err != nil {
		return nil, err
	}
	orientations := make([]float64, len(kps))
	for i, kp := range kps {
		m01, m10 := 0, 0
		for y := 0; y < nRows; y++ {
			m01Temp := 0
			for x := 0; x < nCols; x++ {
				if mask.GrayAt(x, y).Y > 0 {
					pixVal := int(padded.GrayAt(x+kp.X, y+kp.Y).Y)
					m10 += pixVal * (x - nCols2)
					m01Temp += pixVal
				}
			}
			m01 += m01Temp * (y - nRows2)
		}
		orientations[i] = math.Atan2(float64(m01), float64(m10))
	}
	return orientations, nil
}

// RescaleKeypoints scales keypoint coordinates back up from a downscaled
// pyramid layer to the original image resolution.
func RescaleKeypoints(kps KeyPoints, scale int) KeyPoints {
	rescaled := make(KeyPoints, len(kps))
	for i, kp := range kps {
		rescaled[i] = image.Point{kp.X * scale, kp.Y * scale}
	}
	return rescaled
}

// PlotKeypoints plots keypoints on an image and saves it as a PNG, which is
// handy when debugging detector settings.
func PlotKeypoints(img *image.Gray, kps KeyPoints, outName string) error {
	w, h := img.Bounds().Max.X, img.Bounds().Max.Y

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps {
		dc.DrawCircle(float64(p.X), float64(p.Y), 3.0)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}
