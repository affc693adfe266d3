package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AudioFiles lays out uploaded audio on the local filesystem
type AudioFiles struct {
	dir string
	now func() time.Time
}

// NewAudioFiles creates an upload directory handler
func NewAudioFiles(dir string) *AudioFiles {
	return &AudioFiles{dir: dir, now: time.Now}
}

// Allocate reserves a unique path for an upload: <dir>/2025/01/23/<uuid>.<ext>.
// It returns the stored filename and the full path.
func (f *AudioFiles) Allocate(originalName string) (string, string, error) {
	now := f.now()
	dateDir := filepath.Join(f.dir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create date directory: %v", err)
	}

	stored := uuid.New().String() + strings.ToLower(filepath.Ext(originalName))
	return stored, filepath.Join(dateDir, stored), nil
}

// Remove deletes a stored file. A missing file is not an error.
func (f *AudioFiles) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SanitizeFilename reduces name to a safe single path element of at most 100 bytes.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 32 {
			return -1
		}
		return r
	}, name)
	result = strings.TrimSpace(result)
	if result == "" || result == "." || result == ".." {
		result = "untitled"
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
