package epipolar

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// syntheticScene returns a set of non-planar 3d points and their
// projections in two views, the second camera being translated by
// baseline along the x axis with no rotation.
func syntheticScene(intrinsics *Intrinsics, baseline float64) ([]r3.Vector, []r2.Point, []r2.Point) {
	pts3d := []r3.Vector{
		{X: -1.0, Y: -0.8, Z: 4.0},
		{X: 1.2, Y: -0.5, Z: 5.5},
		{X: 0.3, Y: 0.9, Z: 3.2},
		{X: -0.7, Y: 0.4, Z: 6.1},
		{X: 0.9, Y: 1.1, Z: 4.8},
		{X: -1.3, Y: -0.2, Z: 7.3},
		{X: 0.1, Y: -1.0, Z: 3.9},
		{X: 1.5, Y: 0.6, Z: 5.0},
		{X: -0.4, Y: 1.3, Z: 6.7},
		{X: 0.6, Y: -0.6, Z: 4.4},
		{X: -1.1, Y: 0.8, Z: 5.8},
		{X: 1.0, Y: -1.2, Z: 6.4},
		{X: -0.2, Y: 0.1, Z: 3.5},
		{X: 0.4, Y: 1.0, Z: 7.0},
		{X: -0.9, Y: -1.1, Z: 5.2},
		{X: 1.3, Y: 0.2, Z: 4.1},
	}
	project := func(pt r3.Vector, cx float64) r2.Point {
		return r2.Point{
			X: intrinsics.Fx*(pt.X-cx)/pt.Z + intrinsics.Ppx,
			Y: intrinsics.Fy*pt.Y/pt.Z + intrinsics.Ppy,
		}
	}
	pts1 := make([]r2.Point, len(pts3d))
	pts2 := make([]r2.Point, len(pts3d))
	for i, pt := range pts3d {
		pts1[i] = project(pt, 0)
		pts2[i] = project(pt, baseline)
	}
	return pts3d, pts1, pts2
}

func testIntrinsics() *Intrinsics {
	return &Intrinsics{Width: 640, Height: 480, Fx: 640, Fy: 640, Ppx: 320, Ppy: 240}
}

func epipolarResidual(f *mat.Dense, pt1, pt2 r2.Point) float64 {
	x1 := mat.NewVecDense(3, []float64{pt1.X, pt1.Y, 1})
	x2 := mat.NewVecDense(3, []float64{pt2.X, pt2.Y, 1})
	var fx1 mat.VecDense
	fx1.MulVec(f, x1)
	return math.Abs(mat.Dot(x2, &fx1))
}

func TestComputeFundamentalMatrix(t *testing.T) {
	intrinsics := testIntrinsics()
	_, pts1, pts2 := syntheticScene(intrinsics, 0.5)
	f, err := computeFundamentalMatrix(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldNotBeNil)
	for i := range pts1 {
		// residuals scale with F, which is normalized to F[2][2]=1
		test.That(t, epipolarResidual(f, pts1[i], pts2[i]), test.ShouldBeLessThan, 1e-6)
	}

	_, err = computeFundamentalMatrix(pts1[:4], pts2[:4])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = computeFundamentalMatrix(pts1, pts2[:8])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRANSACFundamental(t *testing.T) {
	intrinsics := testIntrinsics()
	_, pts1, pts2 := syntheticScene(intrinsics, 0.5)
	rnd := rand.New(rand.NewSource(42))

	// corrupt two correspondences
	corrupted1 := make([]r2.Point, len(pts1))
	corrupted2 := make([]r2.Point, len(pts2))
	copy(corrupted1, pts1)
	copy(corrupted2, pts2)
	corrupted2[3] = r2.Point{X: corrupted2[3].X + 45, Y: corrupted2[3].Y - 30}
	corrupted2[10] = r2.Point{X: corrupted2[10].X - 60, Y: corrupted2[10].Y + 25}

	f, inliers, err := RANSACFundamental(corrupted1, corrupted2, DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldNotBeNil)
	test.That(t, len(inliers), test.ShouldBeGreaterThanOrEqualTo, MinCorrespondences)
	for _, idx := range inliers {
		test.That(t, idx, test.ShouldNotEqual, 3)
		test.That(t, idx, test.ShouldNotEqual, 10)
	}

	// not enough points is a no-estimate, not an error
	f, inliers, err = RANSACFundamental(pts1[:5], pts2[:5], DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeNil)
}

func TestEstimatePose(t *testing.T) {
	intrinsics := testIntrinsics()
	_, pts1, pts2 := syntheticScene(intrinsics, 0.5)
	rnd := rand.New(rand.NewSource(7))

	pose, err := EstimatePose(pts1, pts2, intrinsics, DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldNotBeNil)
	test.That(t, mat.Det(pose.Rotation), test.ShouldAlmostEqual, 1, 1e-6)
	// pure translation: rotation close to identity
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			expected := 0.
			if i == j {
				expected = 1.
			}
			test.That(t, pose.Rotation.At(i, j), test.ShouldAlmostEqual, expected, 1e-3)
		}
	}
	// camera moved in +x, so t = -R*C points in -x
	test.That(t, pose.Translation.At(0, 0), test.ShouldBeLessThan, 0)
	test.That(t, math.Abs(pose.Translation.At(0, 0)), test.ShouldBeGreaterThan, math.Abs(pose.Translation.At(1, 0)))
	test.That(t, math.Abs(pose.Translation.At(0, 0)), test.ShouldBeGreaterThan, math.Abs(pose.Translation.At(2, 0)))

	// too few correspondences
	pose, err = EstimatePose(pts1[:6], pts2[:6], intrinsics, DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldBeNil)

	// misuse is an error
	_, err = EstimatePose(pts1, pts2[:7], intrinsics, DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimatePose(pts1, pts2, nil, DefaultRANSACConfig(), rnd)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTriangulatePoints(t *testing.T) {
	intrinsics := testIntrinsics()
	baseline := 0.5
	pts3dGT, pts1, pts2 := syntheticScene(intrinsics, baseline)
	k := intrinsics.CameraMatrix()

	// ground truth pose: identity rotation, t = (-baseline, 0, 0)
	rot := eye(3)
	tr := mat.NewDense(3, 1, []float64{-baseline, 0, 0})
	pose := NewPose(rot, tr)

	pts3d, indices, err := TriangulatePoints(pts1, pts2, k, pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts3d), test.ShouldEqual, len(pts1))
	test.That(t, len(indices), test.ShouldEqual, len(pts1))
	for i, pt := range pts3d {
		// no correspondences are skipped in a finite-depth scene
		test.That(t, indices[i], test.ShouldEqual, i)
		test.That(t, pt.X, test.ShouldAlmostEqual, pts3dGT[i].X, 1e-6)
		test.That(t, pt.Y, test.ShouldAlmostEqual, pts3dGT[i].Y, 1e-6)
		test.That(t, pt.Z, test.ShouldAlmostEqual, pts3dGT[i].Z, 1e-6)
	}

	p1, p2 := projectionMatrices(k, pose)
	test.That(t, ReprojectionError(pts3d, pts1, p1), test.ShouldBeLessThan, 1e-3)
	test.That(t, ReprojectionError(pts3d, pts2, p2), test.ShouldBeLessThan, 1e-3)

	_, _, err = TriangulatePoints(pts1, pts2[:3], k, pose)
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = TriangulatePoints(pts1, pts2, k, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateIntrinsics(t *testing.T) {
	intrinsics := EstimateIntrinsics(640, 480)
	test.That(t, intrinsics.Fx, test.ShouldEqual, 640)
	test.That(t, intrinsics.Fy, test.ShouldEqual, 640)
	test.That(t, intrinsics.Ppx, test.ShouldEqual, 320)
	test.That(t, intrinsics.Ppy, test.ShouldEqual, 240)
	k := intrinsics.CameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 640)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1)
}

func TestDecomposeEssentialMatrix(t *testing.T) {
	intrinsics := testIntrinsics()
	_, pts1, pts2 := syntheticScene(intrinsics, 0.5)
	f, err := computeFundamentalMatrix(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	k := intrinsics.CameraMatrix()
	e, err := EssentialFromFundamental(f, k, k)
	test.That(t, err, test.ShouldBeNil)
	poses, err := DecomposeEssentialMatrix(e)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(poses), test.ShouldEqual, 4)
	for _, pose := range poses {
		test.That(t, mat.Det(pose.Rotation), test.ShouldAlmostEqual, 1, 1e-6)
	}
}
