package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/joeychilson/colorvision/pkg/ml"
)

// Engine runs a single-input ONNX model through a dynamic session
type Engine struct {
	session *ort.DynamicAdvancedSession
	inputs  []ml.TensorSpec
	outputs []ml.TensorSpec
}

type engineConfig struct {
	threads int
	gpu     bool
}

// EngineOption is a functional option for configuring an Engine
type EngineOption func(*engineConfig)

// WithThreads sets the number of intra-op threads, zero keeps the runtime default
func WithThreads(n int) EngineOption {
	return func(c *engineConfig) {
		c.threads = n
	}
}

// WithCUDA appends the CUDA execution provider to the session
func WithCUDA(enabled bool) EngineOption {
	return func(c *engineConfig) {
		c.gpu = enabled
	}
}

// NewEngine creates an engine from serialized model bytes. The runtime
// environment must already be initialized with New.
func NewEngine(modelData []byte, opts ...EngineOption) (*Engine, error) {
	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfoWithONNXData(modelData)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	if cfg.threads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(cfg.threads); err != nil {
			return nil, fmt.Errorf("failed to set threads: %w", err)
		}
	}

	if cfg.gpu {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create cuda options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable cuda: %w", err)
		}
	}

	inputs := specs(inputInfo)
	outputs := specs(outputInfo)

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(modelData, names(inputs), names(outputs), sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Engine{session: session, inputs: inputs, outputs: outputs}, nil
}

// Inputs describes the model inputs
func (e *Engine) Inputs() []ml.TensorSpec {
	return e.inputs
}

// Outputs describes the model outputs
func (e *Engine) Outputs() []ml.TensorSpec {
	return e.outputs
}

// Run performs inference on the input data and copies every output out of
// the runtime-owned tensors.
func (e *Engine) Run(input []float32) ([][]float32, error) {
	if len(e.inputs) != 1 {
		return nil, fmt.Errorf("model has %d inputs, want 1", len(e.inputs))
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(e.inputs[0].Shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(e.outputs))

	err = e.session.Run([]ort.Value{inputTensor}, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to run session: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	results := make([][]float32, len(outputs))
	for i, out := range outputs {
		t, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", e.outputs[i].Name)
		}
		data := t.GetData()
		results[i] = make([]float32, len(data))
		copy(results[i], data)
	}
	return results, nil
}

// Close releases resources
func (e *Engine) Close() error {
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}

func specs(infos []ort.InputOutputInfo) []ml.TensorSpec {
	out := make([]ml.TensorSpec, len(infos))
	for i, info := range infos {
		out[i] = ml.TensorSpec{
			Name:  info.Name,
			Shape: resolveBatch(info.Dimensions),
			DType: dtype(info.DataType),
		}
	}
	return out
}

// resolveBatch fixes a dynamic leading batch dimension to 1
func resolveBatch(dims ort.Shape) ml.Shape {
	shape := make(ml.Shape, len(dims))
	copy(shape, dims)
	if len(shape) > 0 && shape[0] < 0 {
		shape[0] = 1
	}
	return shape
}

func dtype(t ort.TensorElementDataType) ml.DType {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return ml.Float32
	case ort.TensorElementDataTypeUint8:
		return ml.UInt8
	default:
		return ml.Unknown
	}
}

func names(specs []ml.TensorSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
