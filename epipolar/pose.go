package epipolar

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose stores a rotation matrix and a translation vector describing
// the second camera relative to the first, together with the 3x4
// projection matrix combining them.
type Pose struct {
	Rotation    *mat.Dense
	Translation *mat.Dense
	PoseMat     *mat.Dense
}

// NewPose creates a Pose from a 3x3 rotation and a 3x1 translation.
func NewPose(rotation, translation *mat.Dense) *Pose {
	p := mat.NewDense(3, 4, nil)
	p.Augment(rotation, translation)
	return &Pose{
		Rotation:    rotation,
		Translation: translation,
		PoseMat:     p,
	}
}

// adjustSign flips rotation and translation if the rotation has a
// negative determinant, so that it is a proper rotation.
func (pose *Pose) adjustSign() {
	if mat.Det(pose.Rotation) < 0 {
		pose.Rotation.Scale(-1, pose.Rotation)
		pose.Translation.Scale(-1, pose.Translation)
		pose.PoseMat.Augment(pose.Rotation, pose.Translation)
	}
}

// numberPositiveDepth counts the triangulated points that lie in
// front of both cameras for the given candidate pose.
func numberPositiveDepth(pts1, pts2 []r2.Point, k *mat.Dense, pose *Pose) int {
	pts3d, _, err := TriangulatePoints(pts1, pts2, k, pose)
	if err != nil {
		return 0
	}
	nPositive := 0
	for _, pt := range pts3d {
		if pt.Z <= 0 {
			continue
		}
		// depth in the second camera frame
		z2 := pose.Rotation.At(2, 0)*pt.X +
			pose.Rotation.At(2, 1)*pt.Y +
			pose.Rotation.At(2, 2)*pt.Z +
			pose.Translation.At(2, 0)
		if z2 > 0 {
			nPositive++
		}
	}
	return nPositive
}

// selectCorrectPose returns the candidate pose for which the most
// triangulated points have positive depth in both cameras.
func selectCorrectPose(poses []*Pose, pts1, pts2 []r2.Point, k *mat.Dense) *Pose {
	bestCount := -1
	var bestPose *Pose
	for _, pose := range poses {
		n := numberPositiveDepth(pts1, pts2, k, pose)
		if n > bestCount {
			bestCount = n
			bestPose = pose
		}
	}
	if bestCount <= 0 {
		return nil
	}
	return bestPose
}

// EstimatePose estimates the relative pose of the camera that
// captured pts2 with respect to the camera that captured pts1. It
// returns (nil, nil) when fewer than MinCorrespondences pairs are
// given or the configuration is degenerate; a nil pose is a
// no-estimate outcome, not an error.
func EstimatePose(pts1, pts2 []r2.Point, intrinsics *Intrinsics, cfg RANSACConfig, rnd *rand.Rand) (*Pose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.Errorf("point sets have different sizes: %d and %d", len(pts1), len(pts2))
	}
	if intrinsics == nil {
		return nil, errors.New("intrinsics are nil")
	}
	if len(pts1) < MinCorrespondences {
		return nil, nil
	}
	f, inliers, err := RANSACFundamental(pts1, pts2, cfg, rnd)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	k := intrinsics.CameraMatrix()
	e, err := EssentialFromFundamental(f, k, k)
	if err != nil {
		return nil, nil
	}
	poses, err := DecomposeEssentialMatrix(e)
	if err != nil {
		return nil, nil
	}
	in1 := make([]r2.Point, len(inliers))
	in2 := make([]r2.Point, len(inliers))
	for i, idx := range inliers {
		in1[i] = pts1[idx]
		in2[i] = pts2[idx]
	}
	return selectCorrectPose(poses, in1, in2, k), nil
}
