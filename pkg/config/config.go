package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Engine names accepted in COLORVISION_ENGINE
const (
	EngineTFLite = "tflite"
	EngineONNX   = "onnx"
)

// Config holds runtime settings read from the environment
type Config struct {
	ModelPath           string
	Engine              string
	ONNXLibraryPath     string
	ONNXCachePath       string // Searched for the runtime when ONNXLibraryPath is empty
	GPU                 bool   // Enables the CUDA execution provider for onnx
	LabelsPath          string
	OutputDir           string
	HistoryPath         string
	Confidence          float64 // Minimum objectness x class score
	Objectness          float64 // Minimum objectness
	MonochromeThreshold int
	Threads             int
	LogLevel            string
	BoxColor            string
	TextColor           string
	LabelBackground     string
	StrokeWidth         float64
	FontSize            float64
}

// Load reads an optional .env file from the working directory and then the
// environment, falling back to defaults for unset or malformed values.
func Load() *Config {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFile is like Load but reads the given env files, which must exist
func LoadFile(filenames ...string) (*Config, error) {
	if err := godotenv.Load(filenames...); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return fromEnv(), nil
}

func fromEnv() *Config {
	return &Config{
		ModelPath:           getEnv("COLORVISION_MODEL", filepath.Join(".", "models", "yolov5s.tflite")),
		Engine:              strings.ToLower(getEnv("COLORVISION_ENGINE", EngineTFLite)),
		ONNXLibraryPath:     getEnv("COLORVISION_ONNX_LIB", ""),
		ONNXCachePath:       getEnv("COLORVISION_ONNX_CACHE", ""),
		GPU:                 getEnvAsBool("COLORVISION_GPU", false),
		LabelsPath:          getEnv("COLORVISION_LABELS", ""),
		OutputDir:           getEnv("COLORVISION_OUTPUT_DIR", filepath.Join(".", "output")),
		HistoryPath:         getEnv("COLORVISION_HISTORY_DB", ""),
		Confidence:          getEnvAsFloat("COLORVISION_CONFIDENCE", 0.25),
		Objectness:          getEnvAsFloat("COLORVISION_OBJECTNESS", 0.25),
		MonochromeThreshold: getEnvAsInt("COLORVISION_MONO_THRESHOLD", 128),
		Threads:             getEnvAsInt("COLORVISION_THREADS", 0),
		LogLevel:            getEnv("COLORVISION_LOG_LEVEL", "info"),
		BoxColor:            getEnv("COLORVISION_BOX_COLOR", "#ff0000"),
		TextColor:           getEnv("COLORVISION_TEXT_COLOR", "#ff0000"),
		LabelBackground:     getEnv("COLORVISION_LABEL_BG", "#ffffff"),
		StrokeWidth:         getEnvAsFloat("COLORVISION_STROKE_WIDTH", 8),
		FontSize:            getEnvAsFloat("COLORVISION_FONT_SIZE", 50),
	}
}

// Validate checks that every value is usable
func (c *Config) Validate() error {
	var err error
	if c.Engine != EngineTFLite && c.Engine != EngineONNX {
		err = multierr.Append(err, fmt.Errorf("engine must be %q or %q, got %q", EngineTFLite, EngineONNX, c.Engine))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		err = multierr.Append(err, fmt.Errorf("confidence must be within [0, 1], got %v", c.Confidence))
	}
	if c.Objectness < 0 || c.Objectness > 1 {
		err = multierr.Append(err, fmt.Errorf("objectness must be within [0, 1], got %v", c.Objectness))
	}
	if c.MonochromeThreshold < 0 || c.MonochromeThreshold > 255 {
		err = multierr.Append(err, fmt.Errorf("monochrome threshold must be within [0, 255], got %d", c.MonochromeThreshold))
	}
	if c.Threads < 0 {
		err = multierr.Append(err, fmt.Errorf("threads must not be negative, got %d", c.Threads))
	}
	if c.StrokeWidth <= 0 {
		err = multierr.Append(err, fmt.Errorf("stroke width must be positive, got %v", c.StrokeWidth))
	}
	if c.FontSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("font size must be positive, got %v", c.FontSize))
	}
	if c.OutputDir == "" {
		err = multierr.Append(err, errors.New("output directory must be set"))
	}
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
