package keypoints

import (
	"image"
	"math"
	"math/rand"

	"github.com/viam-labs/monofusion/utils"
	"github.com/viam-labs/monofusion/vimage"
)

// SamplingType selects how BRIEF test points are sampled inside a patch.
type SamplingType int

const (
	// SamplingUniform samples test points uniformly over the patch.
	SamplingUniform SamplingType = iota
	// SamplingNormal samples test points from a normal distribution centered
	// in the patch.
	SamplingNormal
	// SamplingFixed uses a deterministic regularly spaced pattern.
	SamplingFixed
)

// SamplePairs are N pairs of points used to create the BRIEF descriptor of a
// patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs generates n sample pairs for a patch size with the
// chosen sampling type. The same SamplePairs must be reused for every image
// whose descriptors are going to be matched against each other.
func GenerateSamplePairs(dist SamplingType, n, patchSize int, rnd *rand.Rand) *SamplePairs {
	var xs0, ys0, xs1, ys1 []int
	if dist == SamplingFixed {
		xs0 = sampleIntegers(patchSize, n, dist, rnd)
		ys0 = sampleIntegers(patchSize, n, dist, rnd)
		xs1 = sampleIntegers(patchSize, n, dist, rnd)
		for i := 0; i < n; i++ {
			ys1 = append(ys1, -ys0[i])
			if i%2 == 0 {
				xs0[i] = 2 * xs0[i] / 3
				xs1[i] = -2 * xs1[i] / 3
				ys1[i] = ys0[i]
			}
		}
	} else {
		xs0 = sampleIntegers(patchSize, n, dist, rnd)
		ys0 = sampleIntegers(patchSize, n, dist, rnd)
		xs1 = sampleIntegers(patchSize, n, dist, rnd)
		ys1 = sampleIntegers(patchSize, n, dist, rnd)
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		p0 = append(p0, image.Point{X: xs0[i], Y: ys0[i]})
		p1 = append(p1, image.Point{X: xs1[i], Y: ys1[i]})
	}

	return &SamplePairs{P0: p0, P1: p1, N: n}
}

func sampleIntegers(patchSize, n int, sampling SamplingType, rnd *rand.Rand) []int {
	vMin := math.Round(-(float64(patchSize) - 2) / 2.)
	vMax := math.Round(float64(patchSize) / 2.)
	switch sampling {
	case SamplingUniform:
		return utils.SampleNIntegersUniform(n, vMin, vMax, rnd)
	case SamplingNormal:
		return utils.SampleNIntegersNormal(n, vMin, vMax, rnd)
	case SamplingFixed:
		return utils.SampleNRegularlySpaced(n, vMin, vMax)
	default:
		return utils.SampleNIntegersUniform(n, vMin, vMax, rnd)
	}
}

// BRIEFConfig stores the BRIEF descriptor parameters.
type BRIEFConfig struct {
	N              int          `json:"n"` // number of samples taken
	Sampling       SamplingType `json:"sampling"`
	UseOrientation bool         `json:"use_orientation"`
	PatchSize      int          `json:"patch_size"`
}

// DefaultBRIEFConfig returns 256-bit oriented BRIEF over a 31px patch.
func DefaultBRIEFConfig() *BRIEFConfig {
	return &BRIEFConfig{
		N:              256,
		Sampling:       SamplingUniform,
		UseOrientation: true,
		PatchSize:      31,
	}
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on image img at the
// given keypoints, with the given sample pairs.
func ComputeBRIEFDescriptors(img *image.Gray, sp *SamplePairs, kps *FASTKeypoints, cfg *BRIEFConfig) (Descriptors, error) {
	// blur to make the intensity tests stable
	kernel := vimage.GetGaussian5()
	normalized := kernel.Normalize()
	blurred, err := vimage.ConvolveGray(img, normalized, image.Point{2, 2}, vimage.BorderReplicate)
	if err != nil {
		return nil, err
	}

	descs := make(Descriptors, len(kps.Points))
	bnd := blurred.Bounds()
	halfSize := cfg.PatchSize / 2
	for k, kp := range kps.Points {
		p1 := image.Point{kp.X + halfSize, kp.Y + halfSize}
		p2 := image.Point{kp.X + halfSize, kp.Y - halfSize}
		p3 := image.Point{kp.X - halfSize, kp.Y + halfSize}
		p4 := image.Point{kp.X - halfSize, kp.Y - halfSize}
		// Divide by 64 since we store a descriptor as a uint64 array.
		descriptor := make(Descriptor, sp.N/64)
		if !p1.In(bnd) || !p2.In(bnd) || !p3.In(bnd) || !p4.In(bnd) {
			descs[k] = descriptor
			continue
		}
		cosTheta := 1.0
		sinTheta := 0.0
		// if orientation is on and keypoints are oriented, steer the pattern
		if cfg.UseOrientation && kps.Orientations != nil {
			angle := kps.Orientations[k]
			cosTheta = math.Cos(angle)
			sinTheta = math.Sin(angle)
		}
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			p0Val := blurred.GrayAt(kp.X+outx0, kp.Y+outy0).Y
			p1Val := blurred.GrayAt(kp.X+outx1, kp.Y+outy1).Y
			if p0Val > p1Val {
				descriptorIndex := i / 64
				numPos := i % 64
				descriptor[descriptorIndex] |= 1 << numPos
			}
		}
		descs[k] = descriptor
	}
	return descs, nil
}
