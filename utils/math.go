// Package utils contains small shared helpers used across monofusion.
package utils

// AbsInt returns the absolute value of the given value.
func AbsInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ClampF64 clamps x to the range [min, max].
func ClampF64(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
