package imagery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrImageNotFound = errors.New("image not found")

// Store keeps uploaded inspection photos and annotated results on disk.
type Store struct {
	dir string
}

// NewStore creates the image directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data under a fresh name with the given extension and returns
// the name.
func (s *Store) Save(data []byte, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "jpg", "png", "webp":
	default:
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedImage, ext)
	}

	name := uuid.NewString() + "." + ext
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return name, nil
}

// Get reads a stored image by name. Names containing path separators are
// rejected.
func (s *Store) Get(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, ErrImageNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrImageNotFound
	}
	return data, err
}

// Prune deletes images older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
