package yolo

import "fmt"

// ModelLoadError is returned when a model cannot be read or does not follow
// the detection model contract.
type ModelLoadError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *ModelLoadError) Error() string {
	msg := "failed to load model"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ModelLoadError) Unwrap() error {
	return e.Cause
}

// InferenceError is returned when the engine invocation fails
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("failed to run inference: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}
