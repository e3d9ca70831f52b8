package vimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestMakeGray(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 3))
	rgba.Set(1, 1, color.RGBA{255, 255, 255, 255})
	g := MakeGray(rgba)
	test.That(t, g.Bounds(), test.ShouldResemble, rgba.Bounds())
	test.That(t, g.GrayAt(1, 1).Y, test.ShouldEqual, uint8(255))
	test.That(t, g.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))

	// already gray: returned as-is
	test.That(t, MakeGray(g), test.ShouldEqual, g)
}

func TestPaddingGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{100})
		}
	}
	padded, err := PaddingGray(img, image.Point{5, 5}, image.Point{2, 2}, BorderConstant)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, padded.Bounds().Size(), test.ShouldResemble, image.Point{8, 8})
	test.That(t, padded.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, padded.GrayAt(2, 2).Y, test.ShouldEqual, uint8(100))

	replicated, err := PaddingGray(img, image.Point{5, 5}, image.Point{2, 2}, BorderReplicate)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, replicated.GrayAt(0, 0).Y, test.ShouldEqual, uint8(100))

	_, err = PaddingGray(img, image.Point{3, 3}, image.Point{5, 5}, BorderConstant)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvolveGrayUniform(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.SetGray(x, y, color.Gray{200})
		}
	}
	kernel := GetGaussian5().Normalize()
	blurred, err := ConvolveGray(img, kernel, image.Point{2, 2}, BorderReplicate)
	test.That(t, err, test.ShouldBeNil)
	// a normalized kernel over a uniform image preserves intensity
	test.That(t, blurred.GrayAt(5, 5).Y, test.ShouldAlmostEqual, uint8(200), 1)
	test.That(t, blurred.Bounds(), test.ShouldResemble, img.Bounds())
}

func TestKernelNormalize(t *testing.T) {
	k := GetGaussian5()
	n := k.Normalize()
	test.That(t, n.AbSum(), test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, k.At(2, 2), test.ShouldEqual, 36.0)
}
