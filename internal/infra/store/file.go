package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"agendabot/internal/infra/filestore"
)

// FileBackend keeps each document in <dir>/<name>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file backing name.
func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Save(_ context.Context, name string, data []byte) error {
	return filestore.AtomicWrite(b.Path(name), data, 0o644)
}

func (b *FileBackend) Close() error { return nil }
