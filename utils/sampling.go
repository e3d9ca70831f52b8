package utils

import (
	"math"
	"math/rand"
)

// SampleNIntegersUniform samples n integers uniformly in [vMin, vMax].
func SampleNIntegersUniform(n int, vMin, vMax float64, rnd *rand.Rand) []int {
	out := make([]int, n)
	span := vMax - vMin
	for i := range out {
		out[i] = int(math.Round(vMin + rnd.Float64()*span))
	}
	return out
}

// SampleNIntegersNormal samples n integers from a normal distribution roughly
// spanning [vMin, vMax]; samples landing outside the range are clamped.
func SampleNIntegersNormal(n int, vMin, vMax float64, rnd *rand.Rand) []int {
	out := make([]int, n)
	mu := (vMin + vMax) / 2.
	// 2 sigma covers the half range
	sigma := (vMax - vMin) / 4.
	for i := range out {
		v := math.Round(rnd.NormFloat64()*sigma + mu)
		out[i] = int(ClampF64(v, vMin, vMax))
	}
	return out
}

// SampleNRegularlySpaced samples n regularly spaced integers in [vMin, vMax].
func SampleNRegularlySpaced(n int, vMin, vMax float64) []int {
	out := make([]int, n)
	step := (vMax - vMin) / float64(n)
	for i := range out {
		out[i] = int(math.Round(vMin + float64(i)*step))
	}
	return out
}
