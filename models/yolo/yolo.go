package yolo

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/joeychilson/colorvision/pkg/ml"
	"github.com/joeychilson/colorvision/pkg/postprocess"
)

// Engine is the inference runtime behind a YOLO model. Implementations declare
// their tensors up front and return one float32 buffer per declared output.
type Engine interface {
	// Inputs describes the model inputs
	Inputs() []ml.TensorSpec
	// Outputs describes the model outputs, in the order Run returns them
	Outputs() []ml.TensorSpec
	// Run invokes the model once on a single input buffer
	Run(input []float32) ([][]float32, error)
	// Close releases the engine
	Close() error
}

// Model represents a YOLO model
type Model struct {
	engine  Engine
	input   ml.TensorSpec
	outputs []ml.TensorSpec
	logger  *zap.Logger
}

// Output represents the output data from YOLO inference
type Output struct {
	// Tensors holds the non-empty raw outputs with their declared shapes
	Tensors []*tensor.Dense
	// Rows contains the batch 0 rows of every output, concatenated in output order
	Rows []postprocess.Row
}

// Empty reports whether the model produced no candidate rows at all
func (o *Output) Empty() bool {
	return len(o.Rows) == 0
}

// New creates a new YOLO model on top of engine, checking that its tensors
// follow the single-input, [batch, rows, rowSize] output contract.
func New(engine Engine, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	inputs := engine.Inputs()
	if len(inputs) != 1 {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("model has %d inputs, want 1", len(inputs))}
	}
	if len(inputs[0].Shape) != 4 {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("input %s has rank %d, want 4", inputs[0].Name, len(inputs[0].Shape))}
	}

	outputs := engine.Outputs()
	if len(outputs) == 0 {
		return nil, &ModelLoadError{Reason: "model has no outputs"}
	}
	for _, out := range outputs {
		if len(out.Shape) != 3 {
			return nil, &ModelLoadError{Reason: fmt.Sprintf("output %s has rank %d, want 3", out.Name, len(out.Shape))}
		}
		if out.Shape[1] < 0 {
			return nil, &ModelLoadError{Reason: fmt.Sprintf("output %s has unresolved shape %s", out.Name, out.Shape)}
		}
		if out.Shape[2] < postprocess.MinRowSize {
			return nil, &ModelLoadError{Reason: fmt.Sprintf("output %s has rows of %d values, want at least %d", out.Name, out.Shape[2], postprocess.MinRowSize)}
		}
		if out.DType != ml.Float32 {
			return nil, &ModelLoadError{Reason: fmt.Sprintf("output %s has type %s, want %s", out.Name, out.DType, ml.Float32)}
		}
	}

	logger.Info("loaded detection model",
		zap.Stringer("input", inputs[0]),
		zap.Stringer("layout", inputs[0].Shape.Layout()),
		zap.Int("outputs", len(outputs)),
	)
	for i, out := range outputs {
		logger.Debug("model output", zap.Int("index", i), zap.Stringer("spec", out))
	}

	return &Model{engine: engine, input: inputs[0], outputs: outputs, logger: logger}, nil
}

// Opener builds an engine from serialized model bytes
type Opener func(modelData []byte) (Engine, error)

// Load reads the model at path and opens it with open. Every failure is
// reported as a *ModelLoadError carrying the path.
func Load(path string, open Opener, logger *zap.Logger) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}

	engine, err := open(data)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}

	model, err := New(engine, logger)
	if err != nil {
		engine.Close()
		var loadErr *ModelLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, err
	}
	return model, nil
}

// InputShape returns the declared input shape
func (m *Model) InputShape() ml.Shape {
	return m.input.Shape
}

// Inputs returns the input descriptor
func (m *Model) Inputs() []ml.TensorSpec {
	return []ml.TensorSpec{m.input}
}

// Outputs returns the output descriptors
func (m *Model) Outputs() []ml.TensorSpec {
	return m.outputs
}

// Run performs inference on the preprocessed pixels
func (m *Model) Run(pixels []float32) (*Output, error) {
	if want := m.input.Shape.Size(); len(pixels) != want {
		return nil, &InferenceError{Cause: fmt.Errorf("input has %d values, want %d", len(pixels), want)}
	}

	results, err := m.engine.Run(pixels)
	if err != nil {
		return nil, &InferenceError{Cause: err}
	}
	if len(results) != len(m.outputs) {
		return nil, &InferenceError{Cause: fmt.Errorf("engine returned %d outputs, want %d", len(results), len(m.outputs))}
	}

	output := &Output{Tensors: make([]*tensor.Dense, 0, len(results))}
	for i, data := range results {
		spec := m.outputs[i]
		if len(data) != spec.Shape.Size() {
			return nil, &InferenceError{Cause: fmt.Errorf("output %s has %d values, want %d", spec.Name, len(data), spec.Shape.Size())}
		}

		if len(data) == 0 {
			continue
		}

		t := tensor.New(tensor.WithShape(spec.Shape.Ints()...), tensor.WithBacking(data))
		output.Tensors = append(output.Tensors, t)
		output.Rows = append(output.Rows, batchRows(t)...)
	}

	m.logger.Debug("inference completed", zap.Int("rows", len(output.Rows)))
	return output, nil
}

// Close releases resources
func (m *Model) Close() error {
	if m.engine != nil {
		return m.engine.Close()
	}
	return nil
}

// batchRows returns the rows of batch 0 of a [batch, rows, rowSize] tensor.
// The rows alias the tensor's backing data.
func batchRows(t *tensor.Dense) []postprocess.Row {
	shape := t.Shape()
	count, size := shape[1], shape[2]
	data := t.Data().([]float32)

	rows := make([]postprocess.Row, count)
	for i := range rows {
		rows[i] = postprocess.Row(data[i*size : (i+1)*size : (i+1)*size])
	}
	return rows
}
