// Package main is the colorvision command line tool.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/joeychilson/colorvision/pkg/config"
	"github.com/joeychilson/colorvision/pkg/filter"
	"github.com/joeychilson/colorvision/pkg/logging"
	"github.com/joeychilson/colorvision/pkg/pipeline"
	"github.com/joeychilson/colorvision/pkg/storage"
)

const (
	// Flags.
	flagEnv        = "env"
	flagLogLevel   = "log-level"
	flagOutputDir  = "output-dir"
	flagHistory    = "history"
	flagModel      = "model"
	flagEngine     = "engine"
	flagONNXLib    = "onnx-lib"
	flagONNXCache  = "onnx-cache"
	flagGPU        = "gpu"
	flagLabels     = "labels"
	flagConfidence = "confidence"
	flagObjectness = "objectness"
	flagThreads    = "threads"
	flagThreshold  = "threshold"
	flagFilter     = "filter"
	flagLimit      = "limit"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// state is shared between the Before hook and the command actions
type state struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func (s *state) notifier() pipeline.Notifier {
	return pipeline.NotifierFunc(func(n pipeline.Notice) {
		fmt.Fprintln(s.out, n)
	})
}

func newApp(out io.Writer) *cli.App {
	s := &state{out: out}

	modelFlags := []cli.Flag{
		&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "detection model `FILE`"},
		&cli.StringFlag{Name: flagEngine, Usage: "inference engine, tflite or onnx"},
		&cli.StringFlag{Name: flagONNXLib, Usage: "path to the onnxruntime shared library"},
		&cli.StringFlag{Name: flagONNXCache, Usage: "directory searched for the onnxruntime library"},
		&cli.BoolFlag{Name: flagGPU, Usage: "run onnx models with the CUDA execution provider"},
		&cli.IntFlag{Name: flagThreads, Usage: "inference threads, 0 for the engine default"},
	}

	return &cli.App{
		Name:      "colorvision",
		Usage:     "detect objects and simulate color vision deficiencies",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagEnv, Usage: "load configuration from env `FILE`"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: flagOutputDir, Aliases: []string{"o"}, Usage: "directory for saved images"},
			&cli.StringFlag{Name: flagHistory, Usage: "SQLite `FILE` recording detection runs"},
		},
		Before: func(c *cli.Context) error {
			return s.setup(c)
		},
		After: func(c *cli.Context) error {
			if s.logger != nil {
				_ = s.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run detection on images and save the annotated results",
				ArgsUsage: "<image> [image...]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagLabels, Usage: "class names, one per line"},
					&cli.Float64Flag{Name: flagConfidence, Usage: "minimum objectness x class score"},
					&cli.Float64Flag{Name: flagObjectness, Usage: "minimum objectness"},
					&cli.StringSliceFlag{Name: flagFilter, Aliases: []string{"f"}, Usage: "filter applied after detection, repeatable"},
					&cli.IntFlag{Name: flagThreshold, Usage: "monochrome luma threshold"},
				}, modelFlags...),
				Action: s.runDetect,
			},
			{
				Name:      "filter",
				Usage:     "apply color filters to images and save the results",
				ArgsUsage: "<image> [image...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: flagFilter, Aliases: []string{"f"}, Usage: "filter to apply in order, repeatable", Required: true},
					&cli.IntFlag{Name: flagThreshold, Usage: "monochrome luma threshold"},
				},
				Action: s.runFilter,
			},
			{
				Name:   "info",
				Usage:  "print the model tensors and the available filters",
				Flags:  modelFlags,
				Action: s.runInfo,
			},
			{
				Name:  "history",
				Usage: "list recorded detection runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "number of runs to show"},
				},
				Action: s.runHistory,
			},
		},
	}
}

// setup loads the configuration and builds the logger
func (s *state) setup(c *cli.Context) error {
	cfg := config.Load()
	if path := c.String(flagEnv); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
	}

	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagOutputDir) {
		cfg.OutputDir = c.String(flagOutputDir)
	}
	if c.IsSet(flagHistory) {
		cfg.HistoryPath = c.String(flagHistory)
	}

	logger, err := logging.New("colorvision", cfg.LogLevel)
	if err != nil {
		return err
	}

	s.cfg = cfg
	s.logger = logger
	return nil
}

// configure applies command flags on top of the loaded configuration
func (s *state) configure(c *cli.Context) error {
	cfg := *s.cfg
	if c.IsSet(flagModel) {
		cfg.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagEngine) {
		cfg.Engine = c.String(flagEngine)
	}
	if c.IsSet(flagONNXLib) {
		cfg.ONNXLibraryPath = c.String(flagONNXLib)
	}
	if c.IsSet(flagONNXCache) {
		cfg.ONNXCachePath = c.String(flagONNXCache)
	}
	if c.IsSet(flagGPU) {
		cfg.GPU = c.Bool(flagGPU)
	}
	if c.IsSet(flagLabels) {
		cfg.LabelsPath = c.String(flagLabels)
	}
	if c.IsSet(flagConfidence) {
		cfg.Confidence = c.Float64(flagConfidence)
	}
	if c.IsSet(flagObjectness) {
		cfg.Objectness = c.Float64(flagObjectness)
	}
	if c.IsSet(flagThreads) {
		cfg.Threads = c.Int(flagThreads)
	}
	if c.IsSet(flagThreshold) {
		cfg.MonochromeThreshold = c.Int(flagThreshold)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	s.cfg = &cfg
	return nil
}

func (s *state) runDetect(c *cli.Context) (err error) {
	if c.NArg() == 0 {
		return errors.New("at least one image is required")
	}
	if err := s.configure(c); err != nil {
		return err
	}

	var cs closers
	defer func() {
		err = multierr.Append(err, cs.Close())
	}()

	session, err := newSession(s.cfg, s.logger, s.notifier(), true, &cs)
	if err != nil {
		return err
	}

	for _, path := range c.Args().Slice() {
		img, openErr := storage.Open(path)
		if openErr != nil {
			err = multierr.Append(err, openErr)
			continue
		}

		session.CaptureNamed(path, img)
		if filterErr := applyFilters(session, c.StringSlice(flagFilter), s.cfg.MonochromeThreshold); filterErr != nil {
			err = multierr.Append(err, filterErr)
		}
		if _, saveErr := session.Save(); saveErr != nil {
			err = multierr.Append(err, saveErr)
		}
	}
	return err
}

func (s *state) runFilter(c *cli.Context) (err error) {
	if c.NArg() == 0 {
		return errors.New("at least one image is required")
	}
	if err := s.configure(c); err != nil {
		return err
	}

	var cs closers
	defer func() {
		err = multierr.Append(err, cs.Close())
	}()

	session, err := newSession(s.cfg, s.logger, s.notifier(), false, &cs)
	if err != nil {
		return err
	}

	for _, path := range c.Args().Slice() {
		img, openErr := storage.Open(path)
		if openErr != nil {
			err = multierr.Append(err, openErr)
			continue
		}
		if setErr := session.SetCurrent(img); setErr != nil {
			err = multierr.Append(err, setErr)
			continue
		}

		if filterErr := applyFilters(session, c.StringSlice(flagFilter), s.cfg.MonochromeThreshold); filterErr != nil {
			err = multierr.Append(err, filterErr)
			continue
		}
		if _, saveErr := session.Save(); saveErr != nil {
			err = multierr.Append(err, saveErr)
		}
	}
	return err
}

func (s *state) runInfo(c *cli.Context) (err error) {
	if err := s.configure(c); err != nil {
		return err
	}

	var cs closers
	defer func() {
		err = multierr.Append(err, cs.Close())
	}()

	model, err := loadModel(s.cfg, s.logger, &cs)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "model:  %s (%s)\n", s.cfg.ModelPath, s.cfg.Engine)
	for _, in := range model.Inputs() {
		fmt.Fprintf(s.out, "input:  %s layout=%s\n", in, in.Shape.Layout())
	}
	for _, out := range model.Outputs() {
		fmt.Fprintf(s.out, "output: %s\n", out)
	}
	fmt.Fprintf(s.out, "filters: %v\n", filter.Names())
	return nil
}

func (s *state) runHistory(c *cli.Context) (err error) {
	if s.cfg.HistoryPath == "" {
		return errors.New("no history database configured")
	}

	history, err := storage.OpenHistory(s.cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, history.Close())
	}()

	runs, err := history.Recent(c.Int(flagLimit))
	if err != nil {
		return err
	}

	for _, run := range runs {
		fmt.Fprintf(s.out, "%s  %s  %-8s %4dx%-4d %d detections  %s\n",
			run.CreatedAt.Format("2006-01-02 15:04:05"), run.RunID, run.Outcome,
			run.Width, run.Height, len(run.Detections), run.Source)
	}
	return nil
}
