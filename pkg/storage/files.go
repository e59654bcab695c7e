package storage

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// JPEGQuality is the quality used for every saved image
const JPEGQuality = 100

// FileStore writes images as timestamped JPEG files into a directory
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates a store rooted at dir, creating the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory images are written to
func (s *FileStore) Dir() string {
	return s.dir
}

// Save encodes img as img_<unix millis>.jpg and returns its path. When a file
// with that name already exists the timestamp is advanced until the name is free.
func (s *FileStore) Save(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("failed to save image: image is nil")
	}

	millis := s.now().UnixMilli()
	path := s.path(millis)
	for {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		millis++
		path = s.path(millis)
	}

	if err := imaging.Save(img, path, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return path, nil
}

// Open decodes an image file, applying any EXIF orientation
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return img, nil
}

func (s *FileStore) path(millis int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("img_%d.jpg", millis))
}
