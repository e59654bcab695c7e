package filter

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/joeychilson/colorvision/pkg/imageutil"
)

func createPatternImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 37 % 256),
				G: uint8(y * 53 % 256),
				B: uint8((x*y + 11) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestDeuteranopiaPixel(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	out, err := ApplyMatrix(src, Deuteranopia)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 163, G: 170, B: 65, A: 255})
	test.That(t, out.NRGBAAt(1, 0), test.ShouldResemble, color.NRGBA{R: 163, G: 170, B: 65, A: 128})

	// source untouched
	test.That(t, src.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
}

func TestApplyMatrixSaturates(t *testing.T) {
	boost := NewColorMatrix([3][3]float64{
		{2, 0, 0},
		{0, -1, 0},
		{0, 0, 1},
	})
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 7, A: 255})

	out, err := ApplyMatrix(src, boost)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 255, G: 0, B: 7, A: 255})
}

func TestApplyMatrixSubImage(t *testing.T) {
	src := createPatternImage(10, 10)
	sub := src.SubImage(image.Rect(3, 4, 8, 9))

	out, err := ApplyMatrix(sub, NewColorMatrix([3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 5, 5))
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, src.NRGBAAt(3, 4))
	test.That(t, out.NRGBAAt(4, 4), test.ShouldResemble, src.NRGBAAt(7, 8))
}

func TestMonochromeThreshold(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})                 // 76
	src.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})                 // 149
	src.SetNRGBA(2, 0, color.NRGBA{R: 128, G: 128, B: 128, A: 255}) // 128
	src.SetNRGBA(3, 0, color.NRGBA{R: 127, G: 127, B: 127, A: 10})  // 127

	out, err := Monochrome(src, DefaultMonochromeThreshold)
	test.That(t, err, test.ShouldBeNil)

	black := color.NRGBA{A: 255}
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, black)
	test.That(t, out.NRGBAAt(1, 0), test.ShouldResemble, white)
	test.That(t, out.NRGBAAt(2, 0), test.ShouldResemble, white)
	test.That(t, out.NRGBAAt(3, 0), test.ShouldResemble, black)
}

func TestMonochromeIdempotent(t *testing.T) {
	src := createPatternImage(31, 17)

	for _, threshold := range []int{0, 1, 100, DefaultMonochromeThreshold, 255, 256} {
		once, err := Monochrome(src, threshold)
		test.That(t, err, test.ShouldBeNil)
		twice, err := Monochrome(once, threshold)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, twice.Pix, test.ShouldResemble, once.Pix)
	}
}

func TestLuma(t *testing.T) {
	test.That(t, Luma(255, 255, 255), test.ShouldEqual, 255)
	test.That(t, Luma(0, 0, 0), test.ShouldEqual, 0)
	test.That(t, Luma(10, 20, 30), test.ShouldEqual, 18)
}

func TestFiltersRejectEmptyImage(t *testing.T) {
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	var imgErr *imageutil.InvalidImageError

	_, err := ApplyMatrix(empty, Deuteranopia)
	test.That(t, errors.As(err, &imgErr), test.ShouldBeTrue)

	_, err = Monochrome(empty, DefaultMonochromeThreshold)
	test.That(t, errors.As(err, &imgErr), test.ShouldBeTrue)

	_, err = Deuteranope(nil)
	test.That(t, errors.As(err, &imgErr), test.ShouldBeTrue)
}

func TestByName(t *testing.T) {
	test.That(t, Names(), test.ShouldResemble, []string{"deuteranopia", "monochrome", "protanopia", "tritanopia"})

	src := createPatternImage(6, 6)
	for _, name := range Names() {
		f, err := ByName(name)
		test.That(t, err, test.ShouldBeNil)
		out, err := f(src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Bounds(), test.ShouldResemble, src.Bounds())
	}

	f, err := ByName(" Deuteranopia ")
	test.That(t, err, test.ShouldBeNil)
	got, err := f(src)
	test.That(t, err, test.ShouldBeNil)
	want, err := ApplyMatrix(src, Deuteranopia)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Pix, test.ShouldResemble, want.Pix)

	_, err = ByName("sepia")
	test.That(t, errors.Is(err, ErrUnknownFilter), test.ShouldBeTrue)
}
