package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/joeychilson/colorvision/pkg/filter"
	"github.com/joeychilson/colorvision/pkg/imageutil"
)

// ErrDetectionUnavailable is returned by Capture when no model could be loaded
var ErrDetectionUnavailable = errors.New("detection unavailable: no model loaded")

// Saver persists an image and returns where it was written. *storage.FileStore implements it.
type Saver interface {
	Save(img image.Image) (string, error)
}

// Session holds the current image and applies user commands to it in order.
// Every command starts from the most recently produced image.
type Session struct {
	mu       sync.Mutex
	pipeline *Pipeline
	saver    Saver
	notifier Notifier
	logger   *zap.Logger
	current  image.Image
}

// SessionOption is a functional option for configuring Session
type SessionOption func(*Session)

// WithSessionNotifier sets the receiver of command notices
func WithSessionNotifier(n Notifier) SessionOption {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a session. pipeline may be nil when the model failed to
// load, in which case only filters and saving are available.
func NewSession(pipeline *Pipeline, saver Saver, opts ...SessionOption) *Session {
	s := &Session{
		pipeline: pipeline,
		saver:    saver,
		notifier: discardNotifier{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture runs detection on a newly captured image and makes the result the
// current image. A failed run falls back to the captured image, or keeps the
// previous image when the captured one is unusable.
func (s *Session) Capture(img image.Image) *Result {
	return s.CaptureNamed("", img)
}

// CaptureNamed is like Capture and records source as the image origin
func (s *Session) CaptureNamed(source string, img image.Image) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		result := &Result{Outcome: OutcomeFailed, Image: img, Err: ErrDetectionUnavailable}
		if imageutil.Validate(img) == nil {
			s.current = img
		}
		s.fail("capture", ErrDetectionUnavailable)
		return result
	}

	result := s.pipeline.ProcessNamed(source, img)
	if result.Outcome != OutcomeFailed || imageutil.Validate(img) == nil {
		s.current = result.Image
	}
	return result
}

// SetCurrent replaces the current image without running detection
func (s *Session) SetCurrent(img image.Image) error {
	if err := imageutil.Validate(img); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = img
	return nil
}

// Current returns the most recently produced image, or nil before the first capture
func (s *Session) Current() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ApplyDeuteranopia replaces the current image with its deuteranopia simulation
func (s *Session) ApplyDeuteranopia() error {
	return s.apply("deuteranopia", filter.Deuteranope)
}

// ApplyMonochrome replaces the current image with its thresholded monochrome version
func (s *Session) ApplyMonochrome(threshold int) error {
	return s.apply("monochrome", func(img image.Image) (*image.NRGBA, error) {
		return filter.Monochrome(img, threshold)
	})
}

// ApplyFilter replaces the current image using the filter registered as name
func (s *Session) ApplyFilter(name string) error {
	f, err := filter.ByName(name)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fail(name, err)
		return err
	}
	return s.apply(name, f)
}

// apply runs f on the current image. On failure the current image is kept.
func (s *Session) apply(name string, f filter.Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := f(s.current)
	if err != nil {
		err = fmt.Errorf("failed to apply %s filter: %w", name, err)
		s.fail(name, err)
		return err
	}

	s.current = out
	s.logger.Debug("filter applied", zap.String("filter", name))
	return nil
}

// Save persists the current image and returns its path
func (s *Session) Save() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := imageutil.Validate(s.current); err != nil {
		err = fmt.Errorf("failed to save image: %w", err)
		s.fail("save", err)
		return "", err
	}
	if s.saver == nil {
		err := errors.New("failed to save image: no store configured")
		s.fail("save", err)
		return "", err
	}

	path, err := s.saver.Save(s.current)
	if err != nil {
		s.fail("save", err)
		return "", err
	}

	s.logger.Info("image saved", zap.String("path", path))
	s.notifier.Notify(Notice{Level: LevelInfo, Message: "Image saved: " + path})
	return path, nil
}

func (s *Session) fail(command string, err error) {
	s.logger.Error("command failed", zap.String("command", command), zap.Error(err))
	s.notifier.Notify(Notice{Level: LevelError, Message: err.Error()})
}
