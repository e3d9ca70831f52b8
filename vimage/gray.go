// Package vimage contains the grayscale image helpers the feature pipeline
// relies on: conversion, border padding, and kernel convolution.
package vimage

import (
	"image"
	"image/draw"

	"github.com/pkg/errors"
)

// BorderPad is the padding scheme applied at image borders.
type BorderPad int

const (
	// BorderConstant pads with zero values.
	BorderConstant BorderPad = iota
	// BorderReplicate pads by replicating the closest edge pixel.
	BorderReplicate
)

// MakeGray converts an image to a grayscale image.
func MakeGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	out := image.NewGray(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

// PaddingGray pads a grayscale image on all sides as dictated by the kernel
// size and anchor: left/top padding equals the anchor, right/bottom padding
// fills the rest of the kernel.
func PaddingGray(img *image.Gray, kernelSize, anchor image.Point, border BorderPad) (*image.Gray, error) {
	originalSize := img.Bounds().Size()
	padLeft := anchor.X
	padTop := anchor.Y
	padRight := kernelSize.X - anchor.X - 1
	padBottom := kernelSize.Y - anchor.Y - 1
	if padLeft < 0 || padTop < 0 || padRight < 0 || padBottom < 0 {
		return nil, errors.Errorf("anchor %v out of kernel bounds %v", anchor, kernelSize)
	}
	rect := image.Rect(0, 0, originalSize.X+padLeft+padRight, originalSize.Y+padTop+padBottom)
	padded := image.NewGray(rect)
	for y := 0; y < rect.Max.Y; y++ {
		for x := 0; x < rect.Max.X; x++ {
			sx := x - padLeft
			sy := y - padTop
			switch border {
			case BorderReplicate:
				sx = clampInt(sx, 0, originalSize.X-1)
				sy = clampInt(sy, 0, originalSize.Y-1)
			case BorderConstant:
				if sx < 0 || sy < 0 || sx >= originalSize.X || sy >= originalSize.Y {
					continue
				}
			}
			padded.SetGray(x, y, img.GrayAt(sx, sy))
		}
	}
	return padded, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
