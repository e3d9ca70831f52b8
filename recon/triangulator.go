package recon

import (
	"image/color"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/viam-labs/monofusion/camera"
	"github.com/viam-labs/monofusion/epipolar"
	"github.com/viam-labs/monofusion/keypoints"
)

// MatchSelector trims a sorted match list before geometric
// estimation.
type MatchSelector func(keypoints.Matches) keypoints.Matches

// LiveMatchSelector keeps the best LiveMatchCount correspondences.
func LiveMatchSelector(m keypoints.Matches) keypoints.Matches {
	return m.BestMatches(LiveMatchCount)
}

// BatchMatchSelector keeps the best BatchMatchFraction of
// correspondences.
func BatchMatchSelector(m keypoints.Matches) keypoints.Matches {
	return m.BestFraction(BatchMatchFraction)
}

// Triangulator reconstructs colored 3d points from a pair of frames.
type Triangulator struct {
	tracker *FeatureTracker
	logger  golog.Logger
}

// NewTriangulator returns a Triangulator using the given tracker.
func NewTriangulator(tracker *FeatureTracker, logger golog.Logger) *Triangulator {
	return &Triangulator{tracker: tracker, logger: logger}
}

// TriangulatePair extracts and matches features across the two frames,
// estimates the relative pose, and triangulates the matched points.
// Colors are sampled from the first frame at each matched keypoint.
// Too few correspondences or a degenerate pose yield empty results,
// not an error; the points carry whatever unknown scale the
// translation estimate carries.
func (tr *Triangulator) TriangulatePair(
	frameA, frameB camera.Frame,
	intrinsics *epipolar.Intrinsics,
	sel MatchSelector,
) ([]r3.Vector, []color.NRGBA, error) {
	fsA, err := tr.tracker.Extract(frameA.Image)
	if err != nil {
		return nil, nil, err
	}
	fsB, err := tr.tracker.Extract(frameB.Image)
	if err != nil {
		return nil, nil, err
	}
	matches := sel(tr.tracker.Match(fsA, fsB))
	pts1, pts2, err := MatchedPoints(matches, fsA, fsB)
	if err != nil {
		return nil, nil, err
	}
	pts1, pts2 = dedupeCorrespondences(pts1, pts2)
	if len(pts1) < epipolar.MinCorrespondences {
		return nil, nil, nil
	}
	pose, err := tr.tracker.EstimatePose(pts1, pts2, intrinsics)
	if err != nil {
		return nil, nil, err
	}
	if pose == nil {
		tr.logger.Debug("no pose estimate for frame pair")
		return nil, nil, nil
	}
	pts3d, indices, err := epipolar.TriangulatePoints(pts1, pts2, intrinsics.CameraMatrix(), pose)
	if err != nil {
		return nil, nil, err
	}
	colors := make([]color.NRGBA, len(pts3d))
	bounds := frameA.Image.Bounds()
	for i, srcIdx := range indices {
		x := bounds.Min.X + int(pts1[srcIdx].X)
		y := bounds.Min.Y + int(pts1[srcIdx].Y)
		if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
			colors[i] = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
			continue
		}
		r, g, b, _ := frameA.Image.At(x, y).RGBA()
		colors[i] = color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}
	}
	return pts3d, colors, nil
}

// dedupeCorrespondences drops repeated coordinate pairs, which arise
// when the same corner is detected on more than one pyramid layer and
// rescales to identical pixel coordinates.
func dedupeCorrespondences(pts1, pts2 []r2.Point) ([]r2.Point, []r2.Point) {
	type pair struct {
		a, b r2.Point
	}
	seen := make(map[pair]struct{}, len(pts1))
	out1 := make([]r2.Point, 0, len(pts1))
	out2 := make([]r2.Point, 0, len(pts2))
	for i := range pts1 {
		key := pair{pts1[i], pts2[i]}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out1 = append(out1, pts1[i])
		out2 = append(out2, pts2[i])
	}
	return out1, out2
}
