package postprocess

import (
	"image"

	"github.com/joeychilson/colorvision/pkg/ml"
)

// DefaultThreshold is the objectness and score threshold used when none is configured
const DefaultThreshold float32 = 0.25

// MinRowSize is the smallest row that can hold a box, objectness and one class score
const MinRowSize = 6

const (
	objectnessIndex = 4
	classOffset     = 5
)

// Row is one candidate detection as produced by the model:
// [centerX, centerY, width, height, objectness, classScore0, classScore1, ...]
// with spatial values normalized to the model input size.
type Row []float32

// Options contains the thresholds applied while decoding rows
type Options struct {
	ObjectnessThreshold float32 // Minimum objectness for a row to be considered
	ScoreThreshold      float32 // Minimum objectness x class score for a row to be kept
}

// DefaultOptions returns options with both thresholds set to DefaultThreshold
func DefaultOptions() Options {
	return Options{ObjectnessThreshold: DefaultThreshold, ScoreThreshold: DefaultThreshold}
}

// Detection represents a detected object with its bounding box
type Detection struct {
	Class int
	Score float32
	Box   Box
}

// Box represents a bounding box in pixel coordinates. Values are not clamped
// and may fall outside the image.
type Box struct {
	Left   float32
	Top    float32
	Right  float32
	Bottom float32
}

// Width returns the horizontal extent of the box
func (b Box) Width() float32 { return b.Right - b.Left }

// Height returns the vertical extent of the box
func (b Box) Height() float32 { return b.Bottom - b.Top }

// Decode converts raw rows into detections, using threshold for both the
// objectness gate and the combined score gate.
func Decode(rows []Row, imageSize image.Point, threshold float32) []Detection {
	return DecodeWithOptions(rows, imageSize, Options{ObjectnessThreshold: threshold, ScoreThreshold: threshold})
}

// DecodeWithOptions converts raw rows into detections in input order. Rows
// shorter than MinRowSize are skipped. Overlapping boxes are all kept.
func DecodeWithOptions(rows []Row, imageSize image.Point, opts Options) []Detection {
	width, height := float32(imageSize.X), float32(imageSize.Y)

	var detections []Detection
	for _, row := range rows {
		if len(row) < MinRowSize {
			continue
		}

		objectness := row[objectnessIndex]
		if objectness < opts.ObjectnessThreshold {
			continue
		}

		class, classScore := ml.ArgMax(row[classOffset:])
		score := objectness * classScore
		if score < opts.ScoreThreshold {
			continue
		}

		cx, cy := row[0]*width, row[1]*height
		w, h := row[2]*width, row[3]*height

		detections = append(detections, Detection{
			Class: class,
			Score: score,
			Box: Box{
				Left:   cx - w/2,
				Top:    cy - h/2,
				Right:  cx + w/2,
				Bottom: cy + h/2,
			},
		})
	}
	return detections
}
