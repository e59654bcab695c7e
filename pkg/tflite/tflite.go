package tflite

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mattn/go-tflite"
	"go.uber.org/zap"

	"github.com/joeychilson/colorvision/pkg/ml"
)

// Engine runs a TensorFlow Lite model on a single interpreter
type Engine struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputs      []ml.TensorSpec
	outputs     []ml.TensorSpec
}

type config struct {
	threads int
	logger  *zap.Logger
}

// Option is a functional option for configuring an Engine
type Option func(*config)

// WithThreads sets the interpreter thread count, zero uses one per CPU
func WithThreads(n int) Option {
	return func(c *config) {
		c.threads = n
	}
}

// WithLogger routes interpreter error reports to logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewEngine creates an interpreter for serialized model bytes and allocates its tensors
func NewEngine(modelData []byte, opts ...Option) (*Engine, error) {
	cfg := &config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.threads <= 0 {
		cfg.threads = runtime.NumCPU()
	}
	if len(modelData) == 0 {
		return nil, errors.New("model data is empty")
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New("failed to create model")
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("failed to create interpreter options")
	}
	options.SetNumThread(cfg.threads)

	logger := cfg.logger
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}

	e := &Engine{model: model, options: options, interpreter: interpreter}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, fmt.Errorf("failed to allocate tensors: status %v", status)
	}

	for i := 0; i < interpreter.GetInputTensorCount(); i++ {
		e.inputs = append(e.inputs, spec(interpreter.GetInputTensor(i)))
	}
	for i := 0; i < interpreter.GetOutputTensorCount(); i++ {
		e.outputs = append(e.outputs, spec(interpreter.GetOutputTensor(i)))
	}
	return e, nil
}

// Inputs describes the model inputs
func (e *Engine) Inputs() []ml.TensorSpec {
	return e.inputs
}

// Outputs describes the model outputs
func (e *Engine) Outputs() []ml.TensorSpec {
	return e.outputs
}

// Run copies input into the first input tensor, invokes the interpreter and
// copies every output out of interpreter memory.
func (e *Engine) Run(input []float32) ([][]float32, error) {
	if e.interpreter == nil {
		return nil, errors.New("engine is closed")
	}

	in := e.interpreter.GetInputTensor(0)
	if in == nil || in.Type() != tflite.Float32 {
		return nil, errors.New("input tensor is not float32")
	}
	dst := in.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("failed to invoke interpreter: status %v", status)
	}

	results := make([][]float32, e.interpreter.GetOutputTensorCount())
	for i := range results {
		out := e.interpreter.GetOutputTensor(i)
		if out.Type() != tflite.Float32 {
			return nil, fmt.Errorf("output %s is %v, want float32", out.Name(), out.Type())
		}
		src := out.Float32s()
		results[i] = make([]float32, len(src))
		copy(results[i], src)
	}
	return results, nil
}

// Close deletes the interpreter and related parts
func (e *Engine) Close() error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

func spec(t *tflite.Tensor) ml.TensorSpec {
	shape := make(ml.Shape, t.NumDims())
	for i := range shape {
		shape[i] = int64(t.Dim(i))
	}
	return ml.TensorSpec{Name: t.Name(), Shape: shape, DType: dtype(t.Type())}
}

func dtype(t tflite.TensorType) ml.DType {
	switch t {
	case tflite.Float32:
		return ml.Float32
	case tflite.UInt8:
		return ml.UInt8
	default:
		return ml.Unknown
	}
}
