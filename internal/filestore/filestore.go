package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore reads and writes whole files by path.
type FileStore interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces path atomically.
	WriteFile(path string, data []byte) error
	Remove(path string) error
	Exists(path string) (bool, error)
}

// Local is a FileStore on the local disk.
type Local struct{}

var _ FileStore = Local{}

func NewLocal() Local {
	return Local{}
}

func (Local) ReadFile(path string) ([]byte, error) {
	const op = "filestore.ReadFile"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

// WriteFile writes to a temp file in the same directory, syncs it and
// renames it over path, so readers never see a partial file.
func (Local) WriteFile(path string, data []byte) error {
	const op = "filestore.WriteFile"

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%s: ensure dir: %w", op, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%s: create temp file: %w", op, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: write file: %w", op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: sync file: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: close file: %w", op, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: rename temp file: %w", op, err)
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func (Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore.Remove: %w", err)
	}
	return nil
}

func (Local) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("filestore.Exists: %w", err)
	}
}
