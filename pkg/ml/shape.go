package ml

import (
	"fmt"
	"strings"
)

// Layout describes where the channel dimension sits in an image tensor
type Layout int

const (
	// ChannelsLast is batch-height-width-channels (NHWC)
	ChannelsLast Layout = iota
	// ChannelsFirst is batch-channels-height-width (NCHW)
	ChannelsFirst
)

func (l Layout) String() string {
	if l == ChannelsFirst {
		return "NCHW"
	}
	return "NHWC"
}

// DType is the element type of a tensor
type DType string

const (
	// Float32 is the only element type the detection pipeline consumes
	Float32 DType = "float32"
	// UInt8 is reported by quantized models
	UInt8 DType = "uint8"
	// Unknown is used for element types the pipeline does not handle
	Unknown DType = "unknown"
)

// Shape is an ordered list of tensor dimensions
type Shape []int64

// Layout infers the layout of a rank 4 image shape: channel-first when
// dimension 1 equals 3, channel-last otherwise.
func (s Shape) Layout() Layout {
	if len(s) == 4 && s[1] == 3 {
		return ChannelsFirst
	}
	return ChannelsLast
}

// ImageDims returns height, width and channel count of a rank 4 image shape
// according to its inferred layout.
func (s Shape) ImageDims() (height, width, channels int) {
	if len(s) != 4 {
		return 0, 0, 0
	}
	if s.Layout() == ChannelsFirst {
		return int(s[2]), int(s[3]), int(s[1])
	}
	return int(s[1]), int(s[2]), int(s[3])
}

// Size returns the number of elements described by the shape
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	size := 1
	for _, d := range s {
		size *= int(d)
	}
	return size
}

// Ints converts the shape to a slice of ints
func (s Shape) Ints() []int {
	dims := make([]int, len(s))
	for i, d := range s {
		dims[i] = int(d)
	}
	return dims
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// TensorSpec declares a named model input or output
type TensorSpec struct {
	Name  string
	Shape Shape
	DType DType
}

func (t TensorSpec) String() string {
	return fmt.Sprintf("%s %s %s", t.Name, t.Shape, t.DType)
}
