package keypoints

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/viam-labs/monofusion/vimage"
)

// ORBConfig contains the parameters needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor int          `json:"downscale_factor"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// DefaultORBConfig returns a 2-layer pyramid ORB with the default FAST and
// BRIEF parameters.
func DefaultORBConfig() *ORBConfig {
	return &ORBConfig{
		Layers:          2,
		DownscaleFactor: 2,
		FastConf:        DefaultFASTConfig(),
		BRIEFConf:       DefaultBRIEFConfig(),
	}
}

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate() error {
	if config.Layers < 1 {
		return errors.New("n_layers should be >= 1")
	}
	if config.DownscaleFactor <= 1 {
		return errors.New("downscale_factor should be greater than 1")
	}
	if config.FastConf == nil {
		return errors.New("fast config is required")
	}
	if config.BRIEFConf == nil {
		return errors.New("brief config is required")
	}
	return nil
}

// ImagePyramid contains a succession of downscaled images and their scales
// relative to the original image.
type ImagePyramid struct {
	Images []*image.Gray
	Scales []int
}

// GetImagePyramid computes the pyramid of an image, downscaled by factor
// until either the requested number of layers is reached or the image gets
// too small.
func GetImagePyramid(img *image.Gray, layers, factor int) *ImagePyramid {
	images := []*image.Gray{img}
	scales := []int{1}
	current := img
	scale := 1
	for len(images) < layers {
		size := current.Bounds().Size()
		w, h := size.X/factor, size.Y/factor
		if w < 64 || h < 64 {
			break
		}
		// imaging returns NRGBA; convert back to gray for the detector
		resized := imaging.Resize(current, w, h, imaging.Box)
		current = vimage.MakeGray(resized)
		scale *= factor
		images = append(images, current)
		scales = append(scales, scale)
	}
	return &ImagePyramid{Images: images, Scales: scales}
}

// ComputeORBKeypoints computes ORB keypoints and descriptors on a grayscale
// image: FAST corners per pyramid layer, rescaled to the original resolution,
// described with steered BRIEF. cfg.FastConf.MaxKeypoints bounds the combined
// set across all layers; finer layers spend the budget first, strongest
// corners first within each layer.
func ComputeORBKeypoints(im *image.Gray, sp *SamplePairs, cfg *ORBConfig) (Descriptors, KeyPoints, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pyramid := GetImagePyramid(im, cfg.Layers, cfg.DownscaleFactor)
	orbDescriptors := make(Descriptors, 0)
	orbPoints := make(KeyPoints, 0)
	remaining := cfg.FastConf.MaxKeypoints
	for i := range pyramid.Images {
		if cfg.FastConf.MaxKeypoints > 0 && remaining <= 0 {
			break
		}
		currentImage := pyramid.Images[i]
		currentScale := pyramid.Scales[i]
		layerConf := *cfg.FastConf
		layerConf.MaxKeypoints = remaining
		fastKps := NewFASTKeypointsFromImage(currentImage, &layerConf)
		descs, err := ComputeBRIEFDescriptors(currentImage, sp, fastKps, cfg.BRIEFConf)
		if err != nil {
			return nil, nil, err
		}
		rescaledKps := RescaleKeypoints(fastKps.Points, currentScale)
		orbPoints = append(orbPoints, rescaledKps...)
		orbDescriptors = append(orbDescriptors, descs...)
		remaining -= len(fastKps.Points)
	}
	return orbDescriptors, orbPoints, nil
}
