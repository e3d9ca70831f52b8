package keypoints

import (
	"image"
	"sort"

	"github.com/viam-labs/monofusion/utils"
)

// FASTConfig holds the parameters for FAST corner detection.
type FASTConfig struct {
	NMatchesCircle int     `json:"n_matches"`
	NMSWinSize     int     `json:"nms_win_size_px"`
	Threshold      float64 `json:"threshold"`
	Oriented       bool    `json:"oriented"`
	MaxKeypoints   int     `json:"max_keypoints"`
}

// DefaultFASTConfig returns the FAST parameters used by the live pipeline.
func DefaultFASTConfig() *FASTConfig {
	return &FASTConfig{
		NMatchesCircle: 9,
		NMSWinSize:     7,
		Threshold:      0.15,
		Oriented:       true,
		MaxKeypoints:   1000,
	}
}

var (
	// CrossIdx are the 4 pixel offsets of the fast rejection cross.
	CrossIdx = []image.Point{{0, 3}, {3, 0}, {0, -3}, {-3, 0}}
	// CircleIdx are the 16 pixel offsets of the Bresenham circle of radius 3,
	// in clockwise order starting at 12 o'clock.
	CircleIdx = []image.Point{
		{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
		{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
	}
)

// GetPointValuesInNeighborhood returns the pixel values at the given offsets
// around pt.
func GetPointValuesInNeighborhood(img *image.Gray, pt image.Point, neighborhood []image.Point) []float64 {
	vals := make([]float64, len(neighborhood))
	for i, off := range neighborhood {
		vals[i] = float64(img.GrayAt(pt.X+off.X, pt.Y+off.Y).Y)
	}
	return vals
}

// getBrighterValues masks the values in s strictly brighter than t.
func getBrighterValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v > t {
			out[i] = 1
		}
	}
	return out
}

// getDarkerValues masks the values in s strictly darker than t.
func getDarkerValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v < t {
			out[i] = 1
		}
	}
	return out
}

// sumOfPositiveValuesSlice sums the positive entries of s.
func sumOfPositiveValuesSlice(s []float64) float64 {
	var sum float64
	for _, v := range s {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

// sumOfNegativeValuesSlice sums the negative entries of s.
func sumOfNegativeValuesSlice(s []float64) float64 {
	var sum float64
	for _, v := range s {
		if v < 0 {
			sum += v
		}
	}
	return sum
}

// isValidSliceVals returns true if the binary mask s contains a contiguous
// run, with wraparound, of strictly more than n ones.
func isValidSliceVals(s []float64, n int) bool {
	if len(s) == 0 {
		return false
	}
	maxRun, run := 0, 0
	// doubled pass handles wraparound runs
	for i := 0; i < 2*len(s); i++ {
		if s[i%len(s)] == 1 {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	if maxRun > len(s) {
		maxRun = len(s)
	}
	return maxRun > n
}

// fastCornerScore is the sum of absolute differences between the circle
// pixels and the center, used to rank corners for non-maximum suppression.
func fastCornerScore(circleVals []float64, center float64) float64 {
	var score float64
	for _, v := range circleVals {
		d := v - center
		if d < 0 {
			d = -d
		}
		score += d
	}
	return score
}

type scoredKeypoint struct {
	pt    image.Point
	score float64
}

// ComputeFAST computes the FAST corners of a grayscale image: a pixel is a
// corner if more than NMatchesCircle contiguous pixels on its Bresenham
// circle are all brighter or all darker than it by the configured threshold.
// Corners are non-maximum suppressed in NMSWinSize windows and capped at
// MaxKeypoints, strongest first.
func ComputeFAST(img *image.Gray, cfg *FASTConfig) KeyPoints {
	bounds := img.Bounds()
	w, h := bounds.Max.X, bounds.Max.Y
	thresh := cfg.Threshold * 255.

	candidates := make([]scoredKeypoint, 0, 256)
	for y := 3; y < h-3; y++ {
		for x := 3; x < w-3; x++ {
			p := image.Point{x, y}
			center := float64(img.GrayAt(x, y).Y)
			// cheap rejection on the cross before the full circle test: a
			// contiguous run of 9 on the circle always covers at least 2 of
			// the 4 cross pixels
			crossVals := GetPointValuesInNeighborhood(img, p, CrossIdx)
			brighterCross := sumOfPositiveValuesSlice(getBrighterValues(crossVals, center+thresh))
			darkerCross := sumOfPositiveValuesSlice(getDarkerValues(crossVals, center-thresh))
			if brighterCross < 2 && darkerCross < 2 {
				continue
			}
			circleVals := GetPointValuesInNeighborhood(img, p, CircleIdx)
			brighter := getBrighterValues(circleVals, center+thresh)
			darker := getDarkerValues(circleVals, center-thresh)
			if !isValidSliceVals(brighter, cfg.NMatchesCircle) && !isValidSliceVals(darker, cfg.NMatchesCircle) {
				continue
			}
			candidates = append(candidates, scoredKeypoint{p, fastCornerScore(circleVals, center)})
		}
	}

	kept := nonMaximumSuppression(candidates, cfg.NMSWinSize)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if cfg.MaxKeypoints > 0 && len(kept) > cfg.MaxKeypoints {
		kept = kept[:cfg.MaxKeypoints]
	}
	kps := make(KeyPoints, len(kept))
	for i, c := range kept {
		kps[i] = c.pt
	}
	return kps
}

// nonMaximumSuppression keeps only candidates that hold the maximum score
// within their winSize x winSize neighborhood.
func nonMaximumSuppression(candidates []scoredKeypoint, winSize int) []scoredKeypoint {
	if winSize <= 1 {
		return candidates
	}
	kept := make([]scoredKeypoint, 0, len(candidates))
	for i, c := range candidates {
		isMax := true
		for j, other := range candidates {
			if i == j {
				continue
			}
			if utils.AbsInt(c.pt.X-other.pt.X) <= winSize/2 && utils.AbsInt(c.pt.Y-other.pt.Y) <= winSize/2 {
				if other.score > c.score || (other.score == c.score && j < i) {
					isMax = false
					break
				}
			}
		}
		if isMax {
			kept = append(kept, c)
		}
	}
	return kept
}

// FASTKeypoints stores FAST keypoints and, if the detector is configured as
// oriented, their orientations.
type FASTKeypoints struct {
	Points       KeyPoints
	Orientations []float64
}

// NewFASTKeypointsFromImage detects FAST keypoints in img and computes their
// orientations if cfg.Oriented is set.
func NewFASTKeypointsFromImage(img *image.Gray, cfg *FASTConfig) *FASTKeypoints {
	kps := ComputeFAST(img, cfg)
	var orientations []float64
	if cfg.Oriented {
		var err error
		orientations, err = computeKeypointsOrientations(img, kps)
		if err != nil {
			orientations = nil
		}
	}
	return &FASTKeypoints{kps, orientations}
}

// IsOriented returns whether the keypoints carry orientations.
func (kps *FASTKeypoints) IsOriented() bool {
	return kps.Orientations != nil
}
