package main

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/joeychilson/colorvision/models/yolo"
	"github.com/joeychilson/colorvision/pkg/config"
	"github.com/joeychilson/colorvision/pkg/labels"
	"github.com/joeychilson/colorvision/pkg/onnx"
	"github.com/joeychilson/colorvision/pkg/pipeline"
	"github.com/joeychilson/colorvision/pkg/postprocess"
	"github.com/joeychilson/colorvision/pkg/render"
	"github.com/joeychilson/colorvision/pkg/storage"
	"github.com/joeychilson/colorvision/pkg/tflite"
)

// closers releases resources in reverse order of acquisition
type closers []io.Closer

func (c *closers) add(closer io.Closer) {
	*c = append(*c, closer)
}

func (c closers) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i].Close())
	}
	return err
}

// opener returns the engine constructor for cfg.Engine. The ONNX runtime
// environment is initialized here and added to cs.
func opener(cfg *config.Config, logger *zap.Logger, cs *closers) (yolo.Opener, error) {
	switch cfg.Engine {
	case config.EngineTFLite:
		return func(data []byte) (yolo.Engine, error) {
			engine, err := tflite.NewEngine(data, tflite.WithThreads(cfg.Threads), tflite.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return engine, nil
		}, nil
	case config.EngineONNX:
		runtime, err := onnx.New(runtimeOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		cs.add(runtime)
		logger.Debug("onnx runtime initialized", zap.String("version", runtime.Version()))

		return func(data []byte) (yolo.Engine, error) {
			engine, err := onnx.NewEngine(data, onnx.WithThreads(cfg.Threads), onnx.WithCUDA(runtime.GPU()))
			if err != nil {
				return nil, err
			}
			return engine, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", cfg.Engine)
	}
}

// runtimeOptions maps the onnx settings of cfg to runtime options
func runtimeOptions(cfg *config.Config) []onnx.Option {
	opts := []onnx.Option{
		onnx.WithLibraryPath(cfg.ONNXLibraryPath),
		onnx.WithGPU(cfg.GPU),
	}
	if cfg.ONNXCachePath != "" {
		opts = append(opts, onnx.WithCachePath(cfg.ONNXCachePath))
	}
	return opts
}

// loadModel opens the configured detection model
func loadModel(cfg *config.Config, logger *zap.Logger, cs *closers) (*yolo.Model, error) {
	open, err := opener(cfg, logger, cs)
	if err != nil {
		return nil, &yolo.ModelLoadError{Path: cfg.ModelPath, Cause: err}
	}

	model, err := yolo.Load(cfg.ModelPath, open, logger.Named("yolo"))
	if err != nil {
		return nil, err
	}
	cs.add(model)
	return model, nil
}

// newRenderer builds the renderer from the configured style and labels
func newRenderer(cfg *config.Config) (*render.Renderer, error) {
	style := render.Style{StrokeWidth: cfg.StrokeWidth, FontSize: cfg.FontSize}

	var err, colorErr error
	if style.BoxColor, colorErr = render.ParseColor(cfg.BoxColor); colorErr != nil {
		err = multierr.Append(err, colorErr)
	}
	if style.TextColor, colorErr = render.ParseColor(cfg.TextColor); colorErr != nil {
		err = multierr.Append(err, colorErr)
	}
	if style.LabelBackground, colorErr = render.ParseColor(cfg.LabelBackground); colorErr != nil {
		err = multierr.Append(err, colorErr)
	}
	if err != nil {
		return nil, err
	}

	names := labels.COCOLabels
	if cfg.LabelsPath != "" {
		if names, err = labels.Load(cfg.LabelsPath); err != nil {
			return nil, err
		}
	}
	return render.New(style, render.WithLabels(names))
}

// newSession wires a session for cfg. When withModel is set and the model
// fails to load, the session is still returned without detection so that
// filters and saving keep working.
func newSession(cfg *config.Config, logger *zap.Logger, notifier pipeline.Notifier, withModel bool, cs *closers) (*pipeline.Session, error) {
	store, err := storage.NewFileStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	var p *pipeline.Pipeline
	if withModel {
		p, err = newPipeline(cfg, logger, notifier, cs)
		if err != nil {
			logger.Error("detection disabled", zap.Error(err))
			notifier.Notify(pipeline.Notice{Level: pipeline.LevelError, Message: err.Error()})
		}
	}

	return pipeline.NewSession(p, store,
		pipeline.WithSessionNotifier(notifier),
		pipeline.WithSessionLogger(logger.Named("session")),
	), nil
}

func newPipeline(cfg *config.Config, logger *zap.Logger, notifier pipeline.Notifier, cs *closers) (*pipeline.Pipeline, error) {
	renderer, err := newRenderer(cfg)
	if err != nil {
		return nil, err
	}

	model, err := loadModel(cfg, logger, cs)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithDecodeOptions(postprocess.Options{
			ObjectnessThreshold: float32(cfg.Objectness),
			ScoreThreshold:      float32(cfg.Confidence),
		}),
		pipeline.WithNotifier(notifier),
		pipeline.WithLogger(logger.Named("pipeline")),
	}

	if cfg.HistoryPath != "" {
		history, err := storage.OpenHistory(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		cs.add(history)
		opts = append(opts, pipeline.WithRecorder(history))
	}

	return pipeline.New(model, renderer, opts...)
}

// applyFilters runs the named filters on the session's current image in order
func applyFilters(session *pipeline.Session, names []string, threshold int) error {
	var err error
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "monochrome") {
			err = multierr.Append(err, session.ApplyMonochrome(threshold))
			continue
		}
		err = multierr.Append(err, session.ApplyFilter(name))
	}
	return err
}
