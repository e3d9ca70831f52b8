package recon

import (
	"image"
	"math/rand"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/viam-labs/monofusion/epipolar"
	"github.com/viam-labs/monofusion/keypoints"
	"github.com/viam-labs/monofusion/vimage"
)

// LiveMatchCount is how many best correspondences the live path keeps
// before geometric estimation.
const LiveMatchCount = 50

// BatchMatchFraction is the fraction of best correspondences the
// batch fallback keeps.
const BatchMatchFraction = 0.75

// FeatureSet holds the keypoints and descriptors extracted from one
// frame.
type FeatureSet struct {
	Keypoints   keypoints.KeyPoints
	Descriptors keypoints.Descriptors
}

// FeatureTracker extracts ORB features, matches them across frames,
// and estimates relative pose via epipolar geometry. The BRIEF sample
// pattern and the RANSAC draws share one seeded random source so two
// trackers built with the same seed behave identically. The random
// source is not safe for concurrent use, so pose estimation is
// serialized with a mutex.
type FeatureTracker struct {
	orbConf   *keypoints.ORBConfig
	matchConf *keypoints.MatchingConfig
	ransac    epipolar.RANSACConfig
	sp        *keypoints.SamplePairs

	rndMu sync.Mutex
	rnd   *rand.Rand

	logger golog.Logger
}

// NewFeatureTracker returns a tracker with the default ORB, matching,
// and RANSAC configurations, deterministic under the given seed.
func NewFeatureTracker(seed int64, logger golog.Logger) *FeatureTracker {
	orbConf := keypoints.DefaultORBConfig()
	rnd := rand.New(rand.NewSource(seed))
	sp := keypoints.GenerateSamplePairs(
		orbConf.BRIEFConf.Sampling, orbConf.BRIEFConf.N, orbConf.BRIEFConf.PatchSize, rnd)
	return &FeatureTracker{
		orbConf:   orbConf,
		matchConf: keypoints.DefaultMatchingConfig(),
		ransac:    epipolar.DefaultRANSACConfig(),
		sp:        sp,
		rnd:       rnd,
		logger:    logger,
	}
}

// Extract computes the ORB feature set of an image.
func (ft *FeatureTracker) Extract(img image.Image) (*FeatureSet, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	gray := vimage.MakeGray(img)
	descs, kps, err := keypoints.ComputeORBKeypoints(gray, ft.sp, ft.orbConf)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compute ORB keypoints")
	}
	return &FeatureSet{Keypoints: kps, Descriptors: descs}, nil
}

// Match returns the cross-checked correspondences between two feature
// sets, sorted ascending by descriptor distance.
func (ft *FeatureTracker) Match(prev, cur *FeatureSet) keypoints.Matches {
	return keypoints.MatchDescriptors(prev.Descriptors, cur.Descriptors, ft.matchConf, ft.logger)
}

// MatchedPoints resolves matches into two aligned r2 point slices.
func MatchedPoints(matches keypoints.Matches, prev, cur *FeatureSet) ([]r2.Point, []r2.Point, error) {
	kps1, kps2, err := keypoints.GetMatchingKeyPoints(matches, prev.Keypoints, cur.Keypoints)
	if err != nil {
		return nil, nil, err
	}
	pts1 := make([]r2.Point, len(kps1))
	pts2 := make([]r2.Point, len(kps2))
	for i := range kps1 {
		pts1[i] = r2.Point{X: float64(kps1[i].X), Y: float64(kps1[i].Y)}
		pts2[i] = r2.Point{X: float64(kps2[i].X), Y: float64(kps2[i].Y)}
	}
	return pts1, pts2, nil
}

// EstimatePose estimates the relative pose of the camera that
// captured cur with respect to prev from already matched points. It
// returns (nil, nil) when no estimate is possible.
func (ft *FeatureTracker) EstimatePose(pts1, pts2 []r2.Point, intrinsics *epipolar.Intrinsics) (*epipolar.Pose, error) {
	ft.rndMu.Lock()
	defer ft.rndMu.Unlock()
	return epipolar.EstimatePose(pts1, pts2, intrinsics, ft.ransac, ft.rnd)
}
