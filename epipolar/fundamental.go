package epipolar

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinCorrespondences is the smallest number of point pairs from which
// a fundamental matrix can be estimated with the 8-point algorithm.
const MinCorrespondences = 8

// RANSACConfig gathers the parameters of the robust fundamental
// matrix estimation.
type RANSACConfig struct {
	// Confidence is the desired probability of finding an all-inlier
	// sample; it controls the adaptive iteration count.
	Confidence float64
	// InlierThreshold is the maximum Sampson distance, in pixels, for
	// a correspondence to count as an inlier.
	InlierThreshold float64
	// MaxIterations caps the number of minimal samples drawn.
	MaxIterations int
}

// DefaultRANSACConfig returns the parameters used by the live and
// batch reconstruction paths.
func DefaultRANSACConfig() RANSACConfig {
	return RANSACConfig{
		Confidence:      0.999,
		InlierThreshold: 1.0,
		MaxIterations:   500,
	}
}

// normalizePoints computes the normalized points and the transform
// applied to them, so that the resulting points are centered at the
// origin and their mean distance to it is sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	avgX := 0.
	avgY := 0.
	n := float64(len(pts))
	for _, pt := range pts {
		avgX += pt.X
		avgY += pt.Y
	}
	avgX /= n
	avgY /= n
	d := 0.
	for _, pt := range pts {
		d += math.Hypot(pt.X-avgX, pt.Y-avgY)
	}
	d /= n
	s := math.Sqrt2 / d
	outPoints := make([]r2.Point, len(pts))
	for i, pt := range pts {
		outPoints[i] = r2.Point{X: s * (pt.X - avgX), Y: s * (pt.Y - avgY)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * avgX,
		0, s, -s * avgY,
		0, 0, 1,
	})
	return outPoints, t
}

// computeFundamentalMatrix estimates the fundamental matrix from all
// given correspondences with the normalized 8-point algorithm.
func computeFundamentalMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.Errorf("point sets have different sizes: %d and %d", len(pts1), len(pts2))
	}
	if len(pts1) < MinCorrespondences {
		return nil, errors.Errorf("need at least %d correspondences, got %d", MinCorrespondences, len(pts1))
	}
	normalizedPts1, t1 := normalizePoints(pts1)
	normalizedPts2, t2 := normalizePoints(pts2)
	nPoints := len(pts1)
	a := mat.NewDense(nPoints, 9, nil)
	for i := 0; i < nPoints; i++ {
		x1 := normalizedPts1[i].X
		y1 := normalizedPts1[i].Y
		x2 := normalizedPts2[i].X
		y2 := normalizedPts2[i].Y
		a.SetRow(i, []float64{x2 * x1, x2 * y1, x2, y2 * x1, y2 * y1, y2, x1, y1, 1})
	}
	resSVD := performSVD(a)
	if resSVD == nil {
		return nil, errors.New("could not factorize constraint matrix")
	}
	_, c := resSVD.V.Dims()
	f := resSVD.V.ColView(c - 1)
	fMat := mat.NewDense(3, 3, []float64{
		f.AtVec(0), f.AtVec(1), f.AtVec(2),
		f.AtVec(3), f.AtVec(4), f.AtVec(5),
		f.AtVec(6), f.AtVec(7), f.AtVec(8),
	})
	// enforce rank 2
	svdF := performSVD(fMat)
	if svdF == nil {
		return nil, errors.New("could not factorize fundamental matrix candidate")
	}
	svdF.S.Set(2, 2, 0)
	var f2, f3 mat.Dense
	f2.Mul(svdF.S, svdF.VT)
	f3.Mul(svdF.U, &f2)
	// de-normalize
	var fDeNorm1, fDeNorm2 mat.Dense
	fDeNorm1.Mul(&f3, t1)
	fDeNorm2.Mul(t2.T(), &fDeNorm1)
	fDeNorm2.Scale(1./fDeNorm2.At(2, 2), &fDeNorm2)
	return &fDeNorm2, nil
}

// sampsonDistance returns the first-order geometric error of the
// correspondence (pt1, pt2) with respect to f, in pixels.
func sampsonDistance(f *mat.Dense, pt1, pt2 r2.Point) float64 {
	x1 := mat.NewVecDense(3, []float64{pt1.X, pt1.Y, 1})
	x2 := mat.NewVecDense(3, []float64{pt2.X, pt2.Y, 1})
	var fx1, ftx2 mat.VecDense
	fx1.MulVec(f, x1)
	ftx2.MulVec(f.T(), x2)
	num := mat.Dot(x2, &fx1)
	den := fx1.AtVec(0)*fx1.AtVec(0) + fx1.AtVec(1)*fx1.AtVec(1) +
		ftx2.AtVec(0)*ftx2.AtVec(0) + ftx2.AtVec(1)*ftx2.AtVec(1)
	if den == 0 {
		return math.Inf(1)
	}
	return num * num / den
}

// RANSACFundamental robustly estimates the fundamental matrix by
// drawing minimal 8-point samples and keeping the model with the most
// Sampson-distance inliers, then refitting on the inlier set. It
// returns the matrix, the inlier indices, and an error only on misuse;
// a degenerate configuration yields a nil matrix and no error.
func RANSACFundamental(pts1, pts2 []r2.Point, cfg RANSACConfig, rnd *rand.Rand) (*mat.Dense, []int, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.Errorf("point sets have different sizes: %d and %d", len(pts1), len(pts2))
	}
	nPoints := len(pts1)
	if nPoints < MinCorrespondences {
		return nil, nil, nil
	}
	thresholdSq := cfg.InlierThreshold * cfg.InlierThreshold
	var bestF *mat.Dense
	var bestInliers []int
	maxIter := cfg.MaxIterations
	sample1 := make([]r2.Point, MinCorrespondences)
	sample2 := make([]r2.Point, MinCorrespondences)
	for iter := 0; iter < maxIter; iter++ {
		perm := rnd.Perm(nPoints)
		for i := 0; i < MinCorrespondences; i++ {
			sample1[i] = pts1[perm[i]]
			sample2[i] = pts2[perm[i]]
		}
		f, err := computeFundamentalMatrix(sample1, sample2)
		if err != nil {
			continue
		}
		var inliers []int
		for i := 0; i < nPoints; i++ {
			if sampsonDistance(f, pts1[i], pts2[i]) < thresholdSq {
				inliers = append(inliers, i)
			}
		}
		if len(inliers) > len(bestInliers) {
			bestF = f
			bestInliers = inliers
			// adaptive termination
			w := float64(len(inliers)) / float64(nPoints)
			if w > 0 {
				denom := math.Log(1 - math.Pow(w, float64(MinCorrespondences)))
				if denom < 0 {
					needed := int(math.Ceil(math.Log(1-cfg.Confidence) / denom))
					if needed < maxIter {
						maxIter = iter + 1 + needed
					}
				}
			}
		}
	}
	if bestF == nil || len(bestInliers) < MinCorrespondences {
		return nil, nil, nil
	}
	// refit on all inliers
	in1 := make([]r2.Point, len(bestInliers))
	in2 := make([]r2.Point, len(bestInliers))
	for i, idx := range bestInliers {
		in1[i] = pts1[idx]
		in2[i] = pts2[idx]
	}
	refined, err := computeFundamentalMatrix(in1, in2)
	if err == nil && refined != nil {
		bestF = refined
	}
	return bestF, bestInliers, nil
}
