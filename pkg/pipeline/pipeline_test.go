package pipeline

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/joeychilson/colorvision/models/yolo"
	"github.com/joeychilson/colorvision/pkg/imageutil"
	"github.com/joeychilson/colorvision/pkg/logging"
	"github.com/joeychilson/colorvision/pkg/ml"
	"github.com/joeychilson/colorvision/pkg/postprocess"
	"github.com/joeychilson/colorvision/pkg/preprocess"
	"github.com/joeychilson/colorvision/pkg/render"
	"github.com/joeychilson/colorvision/pkg/storage"
)

type fakeEngine struct {
	input  ml.Shape
	rows   [][]float32
	err    error
	inputs [][]float32
}

func (f *fakeEngine) Inputs() []ml.TensorSpec {
	return []ml.TensorSpec{{Name: "images", Shape: f.input, DType: ml.Float32}}
}

func (f *fakeEngine) Outputs() []ml.TensorSpec {
	return []ml.TensorSpec{{Name: "output0", Shape: ml.Shape{1, int64(len(f.rows)), 8}, DType: ml.Float32}}
}

func (f *fakeEngine) Run(input []float32) ([][]float32, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	var flat []float32
	for _, row := range f.rows {
		flat = append(flat, row...)
	}
	return [][]float32{flat}, nil
}

func (f *fakeEngine) Close() error { return nil }

type noticeLog struct {
	notices []Notice
}

func (n *noticeLog) Notify(notice Notice) {
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) errors() []Notice {
	var out []Notice
	for _, notice := range n.notices {
		if notice.Level == LevelError {
			out = append(out, notice)
		}
	}
	return out
}

type fakeRecorder struct {
	runs []*storage.Run
	err  error
}

func (r *fakeRecorder) Record(run *storage.Run) (int64, error) {
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), r.err
}

func createSolidImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newPipeline(t *testing.T, engine *fakeEngine, opts ...Option) *Pipeline {
	t.Helper()

	model, err := yolo.New(engine, zaptest.NewLogger(t))
	test.That(t, err, test.ShouldBeNil)

	renderer, err := render.New(render.DefaultStyle())
	test.That(t, err, test.ShouldBeNil)

	p, err := New(model, renderer, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	test.That(t, err, test.ShouldBeNil)
	return p
}

var gray = color.RGBA{R: 90, G: 90, B: 90, A: 255}

func TestProcessDetected(t *testing.T) {
	engine := &fakeEngine{
		input: ml.Shape{1, 8, 8, 3},
		rows: [][]float32{
			{0.5, 0.5, 0.2, 0.2, 0.9, 0.1, 0.8, 0.05},
			{0.5, 0.5, 0.2, 0.2, 0.1, 0.1, 0.8, 0.05},
		},
	}
	notices := &noticeLog{}
	p := newPipeline(t, engine, WithNotifier(notices))

	src := createSolidImage(100, 100, gray)
	result := p.Process(src)

	test.That(t, result.Err, test.ShouldBeNil)
	test.That(t, result.Outcome, test.ShouldEqual, OutcomeDetected)
	test.That(t, result.RunID, test.ShouldNotBeEmpty)
	test.That(t, result.Detections, test.ShouldHaveLength, 1)
	test.That(t, result.Detections[0].Class, test.ShouldEqual, 1)
	test.That(t, result.Detections[0].Box.Left, test.ShouldAlmostEqual, 40, 1e-4)

	test.That(t, engine.inputs, test.ShouldHaveLength, 1)
	test.That(t, engine.inputs[0], test.ShouldHaveLength, 8*8*3)

	annotated, ok := result.Image.(*image.RGBA)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, annotated.RGBAAt(40, 50), test.ShouldResemble, color.RGBA{R: 255, A: 255})
	test.That(t, src.RGBAAt(40, 50), test.ShouldResemble, gray)

	test.That(t, notices.notices, test.ShouldHaveLength, 1)
	test.That(t, notices.notices[0].Message, test.ShouldEqual, "Detections: 1")
	test.That(t, notices.notices[0].RunID, test.ShouldEqual, result.RunID)
}

func TestProcessEmpty(t *testing.T) {
	engine := &fakeEngine{
		input: ml.Shape{1, 3, 8, 8},
		rows:  [][]float32{{0.5, 0.5, 0.2, 0.2, 0.1, 0.9, 0.9, 0.9}},
	}
	notices := &noticeLog{}
	p := newPipeline(t, engine, WithNotifier(notices))

	src := createSolidImage(20, 10, gray)
	result := p.Process(src)

	test.That(t, result.Err, test.ShouldBeNil)
	test.That(t, result.Outcome, test.ShouldEqual, OutcomeEmpty)
	test.That(t, result.Detections, test.ShouldBeEmpty)
	test.That(t, result.Image.(*image.RGBA).Pix, test.ShouldResemble, src.Pix)
	test.That(t, notices.notices, test.ShouldHaveLength, 1)
	test.That(t, notices.notices[0].Message, test.ShouldEqual, "Detections: 0")
}

func TestProcessNoRows(t *testing.T) {
	engine := &fakeEngine{input: ml.Shape{1, 8, 8, 3}}
	p := newPipeline(t, engine)

	result := p.Process(createSolidImage(10, 10, gray))
	test.That(t, result.Outcome, test.ShouldEqual, OutcomeEmpty)
	test.That(t, result.Err, test.ShouldBeNil)
}

func TestProcessSeparateThresholds(t *testing.T) {
	engine := &fakeEngine{
		input: ml.Shape{1, 8, 8, 3},
		rows:  [][]float32{{0.5, 0.5, 0.2, 0.2, 0.3, 0.5, 0, 0}},
	}

	strict := newPipeline(t, engine)
	test.That(t, strict.Process(createSolidImage(10, 10, gray)).Outcome, test.ShouldEqual, OutcomeEmpty)

	loose := newPipeline(t, engine, WithDecodeOptions(postprocess.Options{ObjectnessThreshold: 0.25, ScoreThreshold: 0.1}))
	test.That(t, loose.Process(createSolidImage(10, 10, gray)).Outcome, test.ShouldEqual, OutcomeDetected)
}

func TestProcessInferenceFailure(t *testing.T) {
	cause := errors.New("engine exploded")
	engine := &fakeEngine{input: ml.Shape{1, 8, 8, 3}, err: cause}
	notices := &noticeLog{}
	logger, logs := logging.NewObserved(zapcore.ErrorLevel)
	p := newPipeline(t, engine, WithNotifier(notices), WithLogger(logger))

	src := createSolidImage(32, 32, gray)
	before := append([]uint8(nil), src.Pix...)

	result := p.Process(src)
	test.That(t, result.Outcome, test.ShouldEqual, OutcomeFailed)
	test.That(t, result.Image, test.ShouldEqual, src)
	test.That(t, src.Pix, test.ShouldResemble, before)
	test.That(t, result.Detections, test.ShouldBeEmpty)

	var inferErr *yolo.InferenceError
	test.That(t, errors.As(result.Err, &inferErr), test.ShouldBeTrue)
	test.That(t, errors.Is(result.Err, cause), test.ShouldBeTrue)

	test.That(t, notices.notices, test.ShouldHaveLength, 1)
	test.That(t, notices.errors(), test.ShouldHaveLength, 1)
	test.That(t, notices.notices[0].Message, test.ShouldContainSubstring, "engine exploded")
	test.That(t, logs.Len(), test.ShouldEqual, 1)
}

func TestProcessInvalidShape(t *testing.T) {
	engine := &fakeEngine{input: ml.Shape{1, 8, 8, 4}}
	notices := &noticeLog{}
	p := newPipeline(t, engine, WithNotifier(notices))

	src := createSolidImage(16, 16, gray)
	result := p.Process(src)

	var shapeErr *preprocess.InvalidShapeError
	test.That(t, errors.As(result.Err, &shapeErr), test.ShouldBeTrue)
	test.That(t, result.Image, test.ShouldEqual, src)
	test.That(t, engine.inputs, test.ShouldBeEmpty)
	test.That(t, notices.errors(), test.ShouldHaveLength, 1)
}

func TestProcessInvalidImage(t *testing.T) {
	engine := &fakeEngine{input: ml.Shape{1, 8, 8, 3}}
	notices := &noticeLog{}
	p := newPipeline(t, engine, WithNotifier(notices))

	result := p.Process(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	var imgErr *imageutil.InvalidImageError
	test.That(t, errors.As(result.Err, &imgErr), test.ShouldBeTrue)
	test.That(t, notices.errors(), test.ShouldHaveLength, 1)
}

func TestProcessRecordsRuns(t *testing.T) {
	engine := &fakeEngine{
		input: ml.Shape{1, 8, 8, 3},
		rows:  [][]float32{{0.5, 0.5, 0.2, 0.2, 0.9, 0.1, 0.8, 0.05}},
	}
	recorder := &fakeRecorder{}
	notices := &noticeLog{}
	p := newPipeline(t, engine, WithRecorder(recorder), WithNotifier(notices))

	result := p.ProcessNamed("photo.jpg", createSolidImage(100, 50, gray))
	test.That(t, recorder.runs, test.ShouldHaveLength, 1)

	run := recorder.runs[0]
	test.That(t, run.RunID, test.ShouldEqual, result.RunID)
	test.That(t, run.Source, test.ShouldEqual, "photo.jpg")
	test.That(t, run.Outcome, test.ShouldEqual, "detected")
	test.That(t, run.Width, test.ShouldEqual, 100)
	test.That(t, run.Height, test.ShouldEqual, 50)
	test.That(t, run.Detections, test.ShouldResemble, result.Detections)

	// recorder failures never add a second notice
	recorder.err = errors.New("disk full")
	engine.err = errors.New("engine exploded")
	notices.notices = nil
	result = p.Process(createSolidImage(10, 10, gray))
	test.That(t, result.Outcome, test.ShouldEqual, OutcomeFailed)
	test.That(t, recorder.runs[1].Outcome, test.ShouldEqual, "failed")
	test.That(t, notices.notices, test.ShouldHaveLength, 1)
}

func TestNewRequiresDependencies(t *testing.T) {
	renderer, err := render.New(render.DefaultStyle())
	test.That(t, err, test.ShouldBeNil)

	_, err = New(nil, renderer)
	test.That(t, err, test.ShouldNotBeNil)

	model, err := yolo.New(&fakeEngine{input: ml.Shape{1, 8, 8, 3}}, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = New(model, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOutcomeString(t *testing.T) {
	test.That(t, OutcomeDetected.String(), test.ShouldEqual, "detected")
	test.That(t, OutcomeEmpty.String(), test.ShouldEqual, "empty")
	test.That(t, OutcomeFailed.String(), test.ShouldEqual, "failed")
}
