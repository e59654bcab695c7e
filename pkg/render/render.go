package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/joeychilson/colorvision/pkg/imageutil"
	"github.com/joeychilson/colorvision/pkg/postprocess"
)

const (
	// DefaultStrokeWidth is the box outline width in pixels
	DefaultStrokeWidth = 8
	// DefaultFontSize is the label text size in pixels
	DefaultFontSize = 50

	labelPadding = 10
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Style contains the colors and sizes used to draw detections
type Style struct {
	BoxColor        color.Color
	TextColor       color.Color
	LabelBackground color.Color
	StrokeWidth     float64
	FontSize        float64
}

// DefaultStyle returns red boxes and text on a white label background
func DefaultStyle() Style {
	return Style{
		BoxColor:        color.RGBA{R: 255, A: 255},
		TextColor:       color.RGBA{R: 255, A: 255},
		LabelBackground: color.White,
		StrokeWidth:     DefaultStrokeWidth,
		FontSize:        DefaultFontSize,
	}
}

// ParseColor parses a hex color such as "#ff0000"
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Renderer draws detection boxes and labels onto copies of images
type Renderer struct {
	style  Style
	face   font.Face
	labels []string
}

// Option is a functional option for configuring Renderer
type Option func(*Renderer)

// WithLabels names classes by index instead of printing the class number
func WithLabels(labels []string) Option {
	return func(r *Renderer) {
		r.labels = labels
	}
}

// New creates a renderer for style
func New(style Style, opts ...Option) (*Renderer, error) {
	if style.StrokeWidth <= 0 {
		return nil, fmt.Errorf("invalid stroke width: %v", style.StrokeWidth)
	}
	if style.FontSize <= 0 {
		return nil, fmt.Errorf("invalid font size: %v", style.FontSize)
	}
	if style.BoxColor == nil || style.TextColor == nil || style.LabelBackground == nil {
		return nil, fmt.Errorf("style colors must be set")
	}

	r := &Renderer{
		style: style,
		face:  truetype.NewFace(regular, &truetype.Options{Size: style.FontSize}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Label returns the text drawn above a detection
func (r *Renderer) Label(d postprocess.Detection) string {
	if d.Class >= 0 && d.Class < len(r.labels) && r.labels[d.Class] != "" {
		return fmt.Sprintf("%s: %.2f", r.labels[d.Class], d.Score)
	}
	return fmt.Sprintf("Class %d: %.2f", d.Class, d.Score)
}

// Render returns a copy of img with every detection drawn in list order. The
// source image is not modified. Boxes and labels are not clipped.
func (r *Renderer) Render(img image.Image, detections []postprocess.Detection) (*image.RGBA, error) {
	if err := imageutil.Validate(img); err != nil {
		return nil, err
	}

	dst := imageutil.ToRGBA(img)
	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(r.face)

	for _, d := range detections {
		r.drawBox(dc, d.Box)
		r.drawLabel(dc, d.Box, r.Label(d))
	}
	return dst, nil
}

func (r *Renderer) drawBox(dc *gg.Context, b postprocess.Box) {
	dc.DrawRectangle(float64(b.Left), float64(b.Top), float64(b.Width()), float64(b.Height()))
	dc.SetColor(r.style.BoxColor)
	dc.SetLineWidth(r.style.StrokeWidth)
	dc.Stroke()
}

// drawLabel fills a background that sits on top of the box's top edge and
// draws the text on it, baseline labelPadding above the edge.
func (r *Renderer) drawLabel(dc *gg.Context, b postprocess.Box, label string) {
	left, top := float64(b.Left), float64(b.Top)
	textW, textH := dc.MeasureString(label)

	dc.DrawRectangle(left, top-textH-2*labelPadding, textW+2*labelPadding, textH+2*labelPadding)
	dc.SetColor(r.style.LabelBackground)
	dc.Fill()

	dc.SetColor(r.style.TextColor)
	dc.DrawString(label, left+labelPadding, top-labelPadding)
}
