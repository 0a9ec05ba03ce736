package panelconf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Repository defines persistence operations for 1pctl.
type Repository interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileRepository persists a Document at a fixed path.
type FileRepository struct {
	// path is the filesystem location of 1pctl.
	path string
	// mu serializes access to the file.
	mu sync.Mutex
}

// ErrNotFound is returned when 1pctl does not exist.
var ErrNotFound = errors.New("1pctl not found")

const defaultFileMode os.FileMode = 0o755

// NewFileRepository creates a repository over path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the managed file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load parses the file.
func (r *FileRepository) Load(_ context.Context) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read 1pctl: %w", err)
	}

	return Parse(string(contents)), nil
}

// Save replaces the file atomically, keeping its mode when it exists.
func (r *FileRepository) Save(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := defaultFileMode
	if info, err := os.Stat(r.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".1pctl.*")
	if err != nil {
		return fmt.Errorf("write 1pctl: %w", err)
	}

	name := tmp.Name()

	_, err = tmp.WriteString(doc.String())
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(name, mode)
	}

	if err == nil {
		err = os.Rename(name, r.path)
	}

	if err != nil {
		_ = os.Remove(name)

		return fmt.Errorf("write 1pctl: %w", err)
	}

	return nil
}
