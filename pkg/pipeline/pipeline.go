package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeychilson/colorvision/models/yolo"
	"github.com/joeychilson/colorvision/pkg/imageutil"
	"github.com/joeychilson/colorvision/pkg/ml"
	"github.com/joeychilson/colorvision/pkg/postprocess"
	"github.com/joeychilson/colorvision/pkg/preprocess"
	"github.com/joeychilson/colorvision/pkg/render"
	"github.com/joeychilson/colorvision/pkg/storage"
)

// Outcome is the terminal state of a pipeline run
type Outcome int

const (
	// OutcomeDetected means at least one detection was drawn
	OutcomeDetected Outcome = iota
	// OutcomeEmpty means the run succeeded without any detection
	OutcomeEmpty
	// OutcomeFailed means the run was aborted and the original image returned
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDetected:
		return "detected"
	case OutcomeEmpty:
		return "empty"
	default:
		return "failed"
	}
}

// Detector runs a detection model on preprocessed pixels. *yolo.Model implements it.
type Detector interface {
	InputShape() ml.Shape
	Run(pixels []float32) (*yolo.Output, error)
}

// Recorder persists finished runs. *storage.History implements it.
type Recorder interface {
	Record(run *storage.Run) (int64, error)
}

// Result is the explicit outcome of one run
type Result struct {
	RunID      string
	Outcome    Outcome
	Image      image.Image // annotated image, or the original image when the run failed
	Detections []postprocess.Detection
	Err        error
}

// Pipeline turns a captured image into an annotated image
type Pipeline struct {
	mu       sync.Mutex
	detector Detector
	renderer *render.Renderer
	options  postprocess.Options
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
}

// Option is a functional option for configuring Pipeline
type Option func(*Pipeline)

// WithDecodeOptions sets the decoder thresholds
func WithDecodeOptions(opts postprocess.Options) Option {
	return func(p *Pipeline) {
		p.options = opts
	}
}

// WithNotifier sets the receiver of user-facing notices
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithRecorder stores every finished run
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline around an already loaded detector
func New(detector Detector, renderer *render.Renderer, opts ...Option) (*Pipeline, error) {
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}

	p := &Pipeline{
		detector: detector,
		renderer: renderer,
		options:  postprocess.DefaultOptions(),
		notifier: discardNotifier{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs detection on img. It never returns nil: failures are
// reported through Result.Err with the original image as Result.Image.
func (p *Pipeline) Process(img image.Image) *Result {
	return p.ProcessNamed("", img)
}

// ProcessNamed is like Process and records source as the image origin.
// Runs are serialized so the detector is never invoked concurrently.
func (p *Pipeline) ProcessNamed(source string, img image.Image) *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	result := &Result{RunID: uuid.NewString()}
	logger := p.logger.With(zap.String("run", result.RunID))

	detections, annotated, err := p.detect(img)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Image = img
		result.Err = err

		logger.Error("detection failed", zap.Error(err))
		p.notifier.Notify(Notice{Level: LevelError, Message: fmt.Sprintf("Detection failed: %v", err), RunID: result.RunID})
	} else {
		result.Outcome = OutcomeDetected
		if len(detections) == 0 {
			result.Outcome = OutcomeEmpty
		}
		result.Image = annotated
		result.Detections = detections

		logger.Info("detection completed",
			zap.Stringer("outcome", result.Outcome),
			zap.Int("detections", len(detections)),
			zap.Duration("elapsed", time.Since(start)),
		)
		p.notifier.Notify(Notice{Level: LevelInfo, Message: fmt.Sprintf("Detections: %d", len(detections)), RunID: result.RunID})
	}

	p.record(logger, source, img, result)
	return result
}

func (p *Pipeline) detect(img image.Image) ([]postprocess.Detection, image.Image, error) {
	if err := imageutil.Validate(img); err != nil {
		return nil, nil, err
	}

	data, err := preprocess.ProcessImage(img, p.detector.InputShape())
	if err != nil {
		return nil, nil, err
	}

	output, err := p.detector.Run(data.Pixels)
	if err != nil {
		return nil, nil, err
	}

	var detections []postprocess.Detection
	if !output.Empty() {
		detections = postprocess.DecodeWithOptions(output.Rows, data.OrigSize, p.options)
	}

	annotated, err := p.renderer.Render(img, detections)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render detections: %w", err)
	}
	return detections, annotated, nil
}

// record stores the run. Storage failures are logged only so that a run
// surfaces at most one notice.
func (p *Pipeline) record(logger *zap.Logger, source string, img image.Image, result *Result) {
	if p.recorder == nil {
		return
	}

	run := &storage.Run{
		RunID:      result.RunID,
		Source:     source,
		Outcome:    result.Outcome.String(),
		Detections: result.Detections,
	}
	if img != nil {
		size := imageutil.Size(img)
		run.Width, run.Height = size.X, size.Y
	}

	if _, err := p.recorder.Record(run); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}
}
