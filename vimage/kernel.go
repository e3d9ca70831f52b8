package vimage

import (
	"image"
	"math"
)

// Kernel is a 2D convolution kernel.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel value at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// AbSum returns the sum of absolute values of the kernel entries.
func (k *Kernel) AbSum() float64 {
	var sum float64
	for _, row := range k.Content {
		for _, v := range row {
			sum += math.Abs(v)
		}
	}
	return sum
}

// Normalize returns a copy of the kernel scaled so its absolute values sum to 1.
func (k *Kernel) Normalize() *Kernel {
	sum := k.AbSum()
	if sum == 0 {
		sum = 1
	}
	content := make([][]float64, k.Height)
	for y := range content {
		content[y] = make([]float64, k.Width)
		for x := range content[y] {
			content[y][x] = k.Content[y][x] / sum
		}
	}
	return &Kernel{content, k.Width, k.Height}
}

// GetGaussian5 returns the 5x5 binomial approximation of a Gaussian kernel.
func GetGaussian5() *Kernel {
	return &Kernel{[][]float64{
		{1, 4, 6, 4, 1},
		{4, 16, 24, 16, 4},
		{6, 24, 36, 24, 6},
		{4, 16, 24, 16, 4},
		{1, 4, 6, 4, 1},
	}, 5, 5}
}
