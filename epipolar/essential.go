package epipolar

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EssentialFromFundamental computes the essential matrix from the
// fundamental matrix and the camera intrinsics of the two frames.
func EssentialFromFundamental(f, k1, k2 *mat.Dense) (*mat.Dense, error) {
	if f == nil {
		return nil, errors.New("fundamental matrix is nil")
	}
	var essMat, essMat2 mat.Dense
	essMat.Mul(f, k1)
	essMat2.Mul(k2.T(), &essMat)
	// an essential matrix has two equal non-zero singular values
	resSVD := performSVD(&essMat2)
	if resSVD == nil {
		return nil, errors.New("could not factorize essential matrix candidate")
	}
	s := mat.NewDiagDense(3, []float64{1, 1, 0})
	var e1, e2 mat.Dense
	e1.Mul(s, resSVD.VT)
	e2.Mul(resSVD.U, &e1)
	return &e2, nil
}

// DecomposeEssentialMatrix decomposes the essential matrix into the
// four candidate relative poses (R1|t), (R1|-t), (R2|t), (R2|-t).
func DecomposeEssentialMatrix(essMat *mat.Dense) ([]*Pose, error) {
	resSVD := performSVD(essMat)
	if resSVD == nil {
		return nil, errors.New("could not factorize essential matrix")
	}
	w := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	// compute possible rotations
	var rot1a, rot1, rot2a, rot2 mat.Dense
	rot1a.Mul(w, resSVD.VT)
	rot1.Mul(resSVD.U, &rot1a)
	rot2a.Mul(w.T(), resSVD.VT)
	rot2.Mul(resSVD.U, &rot2a)
	// translation is the last column of U, up to sign
	_, c := resSVD.U.Dims()
	t := resSVD.U.ColView(c - 1)
	t1 := mat.NewDense(3, 1, []float64{t.AtVec(0), t.AtVec(1), t.AtVec(2)})
	t2 := mat.NewDense(3, 1, []float64{-t.AtVec(0), -t.AtVec(1), -t.AtVec(2)})

	poses := []*Pose{
		NewPose(&rot1, t1),
		NewPose(&rot1, t2),
		NewPose(&rot2, t1),
		NewPose(&rot2, t2),
	}
	for _, p := range poses {
		p.adjustSign()
	}
	return poses, nil
}
