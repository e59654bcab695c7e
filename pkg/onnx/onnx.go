package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const currentVersion = "1.20.0"

// ErrLibraryNotFound is returned when no ONNX Runtime shared library can be located
var ErrLibraryNotFound = errors.New("onnxruntime library not found")

// Runtime manages ONNX Runtime initialization and configuration
type Runtime struct {
	gpu         bool
	cachePath   string
	libraryPath string
}

// Option is a functional option for configuring Runtime
type Option func(*Runtime)

// WithGPU enables GPU support
func WithGPU(enabled bool) Option {
	return func(r *Runtime) {
		r.gpu = enabled
	}
}

// WithCachePath sets the directory searched for a previously installed runtime
func WithCachePath(path string) Option {
	return func(r *Runtime) {
		r.cachePath = path
	}
}

// WithLibraryPath sets a direct path to the ONNX Runtime library
func WithLibraryPath(path string) Option {
	return func(r *Runtime) {
		r.libraryPath = path
	}
}

// New creates a new ONNX Runtime manager and initializes the environment
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		cachePath: filepath.Join(os.TempDir(), "colorvision"),
		gpu:       false,
	}

	for _, opt := range opts {
		opt(rt)
	}

	libPath, err := rt.LibraryPath()
	if err != nil {
		return nil, fmt.Errorf("failed to locate runtime: %w", err)
	}

	if ort.IsInitialized() {
		return rt, nil
	}

	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize environment: %w", err)
	}
	return rt, nil
}

// RuntimeInfo contains ONNX Runtime specific information
type RuntimeInfo struct {
	Version     string
	OS          string
	Arch        string
	GPU         bool
	LibraryName string
}

// RuntimeInfo returns information about the current runtime
func (r *Runtime) RuntimeInfo() *RuntimeInfo {
	info := &RuntimeInfo{Version: currentVersion, GPU: r.gpu}

	switch runtime.GOOS {
	case "windows":
		info.OS = "win"
		info.LibraryName = "onnxruntime.dll"
	case "darwin":
		info.OS = "osx"
		info.LibraryName = fmt.Sprintf("libonnxruntime.%s.dylib", info.Version)
	default:
		info.OS = "linux"
		info.LibraryName = fmt.Sprintf("libonnxruntime.so.%s", info.Version)
	}

	switch runtime.GOARCH {
	case "amd64":
		if info.OS == "osx" {
			info.Arch = "x86_64"
		} else {
			info.Arch = "x64"
		}
	case "arm64":
		if info.OS == "linux" {
			info.Arch = "aarch64"
		} else {
			info.Arch = "arm64"
		}
	case "386":
		if info.OS == "win" {
			info.Arch = "x86"
		}
	}
	return info
}

// RuntimeURL returns the release archive that ships the library for info
func (r *Runtime) RuntimeURL(info *RuntimeInfo) string {
	base := fmt.Sprintf("https://github.com/microsoft/onnxruntime/releases/download/v%s/", info.Version)

	name := fmt.Sprintf("onnxruntime-%s-%s", info.OS, info.Arch)

	if info.GPU && (info.OS == "linux" || info.OS == "win") && info.Arch == "x64" {
		name += "-gpu"
	}

	name += fmt.Sprintf("-%s", info.Version)
	if info.OS == "win" {
		name += ".zip"
	} else {
		name += ".tgz"
	}
	return base + name
}

// LibraryPath resolves the shared library: the configured path if set,
// otherwise the library installed under the cache directory.
func (r *Runtime) LibraryPath() (string, error) {
	info := r.RuntimeInfo()

	if r.libraryPath != "" {
		if !hasLibraryExt(r.libraryPath) {
			return "", fmt.Errorf("specified library invalid for current platform: %s", r.libraryPath)
		}
		if _, err := os.Stat(r.libraryPath); err != nil {
			return "", fmt.Errorf("specified library path does not exist: %w", err)
		}
		return r.libraryPath, nil
	}

	libPath := filepath.Join(r.cachePath, "runtime", info.LibraryName)
	if _, err := os.Stat(libPath); err == nil {
		return libPath, nil
	}
	return "", fmt.Errorf("%w: install %s from %s into %s", ErrLibraryNotFound,
		info.LibraryName, r.RuntimeURL(info), filepath.Dir(libPath))
}

// GPU reports whether the runtime was configured for GPU execution
func (r *Runtime) GPU() bool {
	return r.gpu
}

// Version returns the current ONNX Runtime version
func (r *Runtime) Version() string {
	return ort.GetVersion()
}

// Close cleans up ONNX Runtime resources
func (r *Runtime) Close() error {
	return ort.DestroyEnvironment()
}

// hasLibraryExt reports whether path names a shared library for the current
// platform, accepting versioned objects such as libonnxruntime.so.1.20.0.
func hasLibraryExt(path string) bool {
	ext := ".so"
	switch runtime.GOOS {
	case "windows":
		ext = ".dll"
	case "darwin":
		ext = ".dylib"
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, ext) || strings.Contains(base, ext+".")
}
