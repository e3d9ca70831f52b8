package epipolar

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// projectionMatrices builds the two 3x4 camera projection matrices
// P1 = K[I|0] and P2 = K[R|t].
func projectionMatrices(k *mat.Dense, pose *Pose) (*mat.Dense, *mat.Dense) {
	ident0 := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	p1 := mat.NewDense(3, 4, nil)
	p1.Mul(k, ident0)
	p2 := mat.NewDense(3, 4, nil)
	p2.Mul(k, pose.PoseMat)
	return p1, p2
}

// TriangulatePoints computes the 3d locations of point
// correspondences by linear triangulation, given the intrinsics and
// the relative pose of the second camera. Correspondences whose
// homogeneous solution lies at infinity are skipped, so the result
// may be shorter than the input; the second return slice holds the
// input index each triangulated point came from.
func TriangulatePoints(pts1, pts2 []r2.Point, k *mat.Dense, pose *Pose) ([]r3.Vector, []int, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.Errorf("point sets have different sizes: %d and %d", len(pts1), len(pts2))
	}
	if pose == nil {
		return nil, nil, errors.New("pose is nil")
	}
	p1, p2 := projectionMatrices(k, pose)
	pts3d := make([]r3.Vector, 0, len(pts1))
	indices := make([]int, 0, len(pts1))
	a := mat.NewDense(4, 4, nil)
	for i := range pts1 {
		for j := 0; j < 4; j++ {
			a.Set(0, j, pts1[i].X*p1.At(2, j)-p1.At(0, j))
			a.Set(1, j, pts1[i].Y*p1.At(2, j)-p1.At(1, j))
			a.Set(2, j, pts2[i].X*p2.At(2, j)-p2.At(0, j))
			a.Set(3, j, pts2[i].Y*p2.At(2, j)-p2.At(1, j))
		}
		resSVD := performSVD(a)
		if resSVD == nil {
			return nil, nil, errors.New("could not triangulate point")
		}
		_, c := resSVD.V.Dims()
		x := resSVD.V.ColView(c - 1)
		w := x.AtVec(3)
		if w == 0 {
			continue
		}
		pts3d = append(pts3d, r3.Vector{
			X: x.AtVec(0) / w,
			Y: x.AtVec(1) / w,
			Z: x.AtVec(2) / w,
		})
		indices = append(indices, i)
	}
	return pts3d, indices, nil
}

// ReprojectionError returns the mean pixel distance between the
// observed points and the triangulated points projected through p.
func ReprojectionError(pts3d []r3.Vector, pts []r2.Point, p *mat.Dense) float64 {
	if len(pts3d) == 0 || len(pts3d) != len(pts) {
		return math.Inf(1)
	}
	sum := 0.
	for i, pt := range pts3d {
		u := p.At(0, 0)*pt.X + p.At(0, 1)*pt.Y + p.At(0, 2)*pt.Z + p.At(0, 3)
		v := p.At(1, 0)*pt.X + p.At(1, 1)*pt.Y + p.At(1, 2)*pt.Z + p.At(1, 3)
		w := p.At(2, 0)*pt.X + p.At(2, 1)*pt.Y + p.At(2, 2)*pt.Z + p.At(2, 3)
		if w == 0 {
			return math.Inf(1)
		}
		sum += math.Hypot(u/w-pts[i].X, v/w-pts[i].Y)
	}
	return sum / float64(len(pts))
}
