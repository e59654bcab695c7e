package ml

import (
	"testing"

	"go.viam.com/test"
)

func TestArgMax(t *testing.T) {
	tests := []struct {
		name    string
		values  []float32
		wantIdx int
		wantVal float32
	}{
		{"single max", []float32{0.1, 0.8, 0.05}, 1, 0.8},
		{"first of ties", []float32{0.3, 0.7, 0.7}, 1, 0.7},
		{"all zero", []float32{0, 0, 0}, 0, 0},
		{"all negative", []float32{-1, -0.5}, 0, 0},
		{"empty", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, val := ArgMax(tt.values)
			test.That(t, idx, test.ShouldEqual, tt.wantIdx)
			test.That(t, val, test.ShouldEqual, tt.wantVal)
		})
	}
}

func TestShapeLayout(t *testing.T) {
	nchw := Shape{1, 3, 320, 640}
	test.That(t, nchw.Layout(), test.ShouldEqual, ChannelsFirst)
	h, w, c := nchw.ImageDims()
	test.That(t, []int{h, w, c}, test.ShouldResemble, []int{320, 640, 3})

	nhwc := Shape{1, 320, 640, 3}
	test.That(t, nhwc.Layout(), test.ShouldEqual, ChannelsLast)
	h, w, c = nhwc.ImageDims()
	test.That(t, []int{h, w, c}, test.ShouldResemble, []int{320, 640, 3})

	test.That(t, Shape{1, 3, 3, 3}.Layout(), test.ShouldEqual, ChannelsFirst)
	test.That(t, Shape{1, 25200, 85}.Layout(), test.ShouldEqual, ChannelsLast)
}

func TestShapeSize(t *testing.T) {
	test.That(t, Shape{1, 5, 7}.Size(), test.ShouldEqual, 35)
	test.That(t, Shape{}.Size(), test.ShouldEqual, 0)
	test.That(t, Shape{1, 2}.String(), test.ShouldEqual, "[1 2]")
	test.That(t, Shape{2, 3}.Ints(), test.ShouldResemble, []int{2, 3})
}
