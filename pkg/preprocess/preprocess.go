package preprocess

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/joeychilson/colorvision/pkg/imageutil"
	"github.com/joeychilson/colorvision/pkg/ml"
)

// ImageData represents preprocessed image data ready for model inference
type ImageData struct {
	Pixels   []float32
	Width    int
	Height   int
	Channels int
	Layout   ml.Layout
	OrigSize image.Point
}

// InvalidShapeError is returned when an input shape cannot describe an RGB image tensor
type InvalidShapeError struct {
	Shape  ml.Shape
	Reason string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid input shape %s: %s", e.Shape, e.Reason)
}

// ValidateShape checks that shape is a rank 4 image tensor with 3 channels
func ValidateShape(shape ml.Shape) error {
	if len(shape) != 4 {
		return &InvalidShapeError{Shape: shape, Reason: fmt.Sprintf("rank %d, want 4", len(shape))}
	}
	for _, d := range shape {
		if d < 1 {
			return &InvalidShapeError{Shape: shape, Reason: "non-positive dimension"}
		}
	}
	if _, _, channels := shape.ImageDims(); channels != 3 {
		return &InvalidShapeError{Shape: shape, Reason: fmt.Sprintf("%d channels, want 3", channels)}
	}
	return nil
}

// ProcessImage stretches img to the height and width of shape with bilinear
// interpolation and returns its RGB values divided by 255, ordered for the
// layout inferred from shape. Aspect ratio is not preserved and alpha is dropped.
func ProcessImage(img image.Image, shape ml.Shape) (*ImageData, error) {
	if err := imageutil.Validate(img); err != nil {
		return nil, err
	}
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}

	height, width, channels := shape.ImageDims()
	layout := shape.Layout()

	// straight alpha keeps the channel values of translucent pixels intact
	resized := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	var pixels []float32
	if layout == ml.ChannelsFirst {
		pixels = planar(resized)
	} else {
		pixels = interleaved(resized)
	}

	return &ImageData{
		Pixels:   pixels,
		Width:    width,
		Height:   height,
		Channels: channels,
		Layout:   layout,
		OrigSize: imageutil.Size(img),
	}, nil
}

func interleaved(img *image.NRGBA) []float32 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	pixels := make([]float32, 0, 3*width*height)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			p := row[x*4 : x*4+3]
			pixels = append(pixels, normalize(p[0]), normalize(p[1]), normalize(p[2]))
		}
	}
	return pixels
}

func planar(img *image.NRGBA) []float32 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	plane := width * height
	pixels := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := y*width + x
			p := row[x*4 : x*4+3]
			pixels[0*plane+i] = normalize(p[0])
			pixels[1*plane+i] = normalize(p[1])
			pixels[2*plane+i] = normalize(p[2])
		}
	}
	return pixels
}

func normalize(v uint8) float32 {
	return float32(v) / 255.0
}
