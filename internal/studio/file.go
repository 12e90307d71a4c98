package studio

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileAudio writes each clip to its own temporary file; the locator is the
// file path.
type FileAudio struct {
	dir string
}

// NewFileAudio uses dir, or the system temp directory when dir is empty.
func NewFileAudio(dir string) *FileAudio {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileAudio{dir: dir}
}

func (a *FileAudio) Create(data []byte) (string, error) {
	f, err := os.CreateTemp(a.dir, "voiceforge-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close audio file: %w", err)
	}

	return f.Name(), nil
}

func (a *FileAudio) Release(path string) error {
	if filepath.Dir(path) != filepath.Clean(a.dir) {
		return fmt.Errorf("audio file %q is not managed here", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove audio file: %w", err)
	}
	return nil
}
