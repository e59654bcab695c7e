// Package filter implements color vision deficiency simulation and
// thresholded monochrome conversion.
package filter

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/joeychilson/colorvision/pkg/imageutil"
)

// ErrUnknownFilter is returned by ByName for unregistered names
var ErrUnknownFilter = errors.New("unknown filter")

// DefaultMonochromeThreshold is the luma at or above which a pixel becomes white
const DefaultMonochromeThreshold = 128

// ColorMatrix is a 3x3 linear transform applied to straight RGB. Row i gives
// the weights of the input R, G and B in output channel i.
type ColorMatrix struct {
	m *mat.Dense
}

// NewColorMatrix creates a matrix from its rows
func NewColorMatrix(rows [3][3]float64) ColorMatrix {
	data := make([]float64, 0, 9)
	for _, row := range rows {
		data = append(data, row[:]...)
	}
	return ColorMatrix{m: mat.NewDense(3, 3, data)}
}

// At returns the weight of input channel j in output channel i
func (c ColorMatrix) At(i, j int) float64 {
	return c.m.At(i, j)
}

func (c ColorMatrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(c.m, mat.Squeeze()))
}

var (
	// Deuteranopia simulates missing green cones
	Deuteranopia = NewColorMatrix([3][3]float64{
		{0.625, 0.375, 0},
		{0.7, 0.3, 0},
		{0, 0.3, 0.7},
	})
	// Protanopia simulates missing red cones
	Protanopia = NewColorMatrix([3][3]float64{
		{0.567, 0.433, 0},
		{0.558, 0.442, 0},
		{0, 0.242, 0.758},
	})
	// Tritanopia simulates missing blue cones
	Tritanopia = NewColorMatrix([3][3]float64{
		{0.95, 0.05, 0},
		{0, 0.433, 0.567},
		{0, 0.475, 0.525},
	})
)

// ApplyMatrix returns a copy of img with m applied to every pixel. Alpha is
// preserved and each channel is rounded and saturated to 0..255.
func ApplyMatrix(img image.Image, m ColorMatrix) (*image.NRGBA, error) {
	if err := imageutil.Validate(img); err != nil {
		return nil, err
	}

	var w [3][3]float64
	for i := range w {
		for j := range w[i] {
			w[i][j] = m.At(i, j)
		}
	}

	dst := toNRGBA(img)
	for i := 0; i < len(dst.Pix); i += 4 {
		r, g, b := float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])
		dst.Pix[i] = saturate(w[0][0]*r + w[0][1]*g + w[0][2]*b)
		dst.Pix[i+1] = saturate(w[1][0]*r + w[1][1]*g + w[1][2]*b)
		dst.Pix[i+2] = saturate(w[2][0]*r + w[2][1]*g + w[2][2]*b)
	}
	return dst, nil
}

// Deuteranope applies the Deuteranopia matrix
func Deuteranope(img image.Image) (*image.NRGBA, error) {
	return ApplyMatrix(img, Deuteranopia)
}

// Monochrome maps each pixel to opaque white when its luma
// (0.299R + 0.587G + 0.114B, truncated) is at least threshold, and to opaque
// black otherwise. Applying it twice gives the same result as applying it once.
func Monochrome(img image.Image, threshold int) (*image.NRGBA, error) {
	if err := imageutil.Validate(img); err != nil {
		return nil, err
	}

	dst := toNRGBA(img)
	for i := 0; i < len(dst.Pix); i += 4 {
		v := uint8(0)
		if Luma(dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]) >= threshold {
			v = 255
		}
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = v, v, v, 255
	}
	return dst, nil
}

// Luma returns the BT.601 luma of an 8-bit RGB triple, truncated to an integer
func Luma(r, g, b uint8) int {
	return (299*int(r) + 587*int(g) + 114*int(b)) / 1000
}

// Func is a filter that produces a new image from img
type Func func(img image.Image) (*image.NRGBA, error)

var byName = map[string]Func{
	"deuteranopia": Deuteranope,
	"protanopia": func(img image.Image) (*image.NRGBA, error) {
		return ApplyMatrix(img, Protanopia)
	},
	"tritanopia": func(img image.Image) (*image.NRGBA, error) {
		return ApplyMatrix(img, Tritanopia)
	},
	"monochrome": func(img image.Image) (*image.NRGBA, error) {
		return Monochrome(img, DefaultMonochromeThreshold)
	},
}

// ByName returns the filter registered under name, ignoring case
func ByName(name string) (Func, error) {
	f, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q, want one of %s", ErrUnknownFilter, name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names returns the registered filter names in sorted order
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toNRGBA copies img into a new straight-alpha image whose bounds start at the origin
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[i:i+4*b.Dx()])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func saturate(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
