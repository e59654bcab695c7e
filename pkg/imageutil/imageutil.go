// Package imageutil holds small image helpers shared by the preprocessing,
// rendering and filter packages.
package imageutil

import (
	"fmt"
	"image"
	"image/draw"
)

// InvalidImageError is returned when an operation receives a nil image or an
// image without any pixels.
type InvalidImageError struct {
	Width  int
	Height int
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %dx%d", e.Width, e.Height)
}

// Validate returns an *InvalidImageError if img is nil or has zero area
func Validate(img image.Image) error {
	if img == nil {
		return &InvalidImageError{}
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return &InvalidImageError{Width: b.Dx(), Height: b.Dy()}
	}
	return nil
}

// Size returns the width and height of img as a point
func Size(img image.Image) image.Point {
	return image.Point{X: img.Bounds().Dx(), Y: img.Bounds().Dy()}
}

// ToRGBA copies img into a new RGBA image whose bounds start at the origin
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
