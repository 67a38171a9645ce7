package database_service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFiles writes one <name>.json file per record in dataDir. Writes are
// atomic: temp file, fsync, rename.
type JSONFiles struct {
	dir string
	mu  sync.Mutex
}

func OpenJSON(dataDir string) (*JSONFiles, error) {
	if dataDir == "" {
		return nil, errors.New("data dir required for json driver")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONFiles{dir: dataDir}, nil
}

func (j *JSONFiles) Name() string { return "json" }

func (j *JSONFiles) Close() error { return nil }

func (j *JSONFiles) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(j.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (j *JSONFiles) Put(_ context.Context, _ string, name string, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.path(name)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (j *JSONFiles) path(name string) string {
	return filepath.Join(j.dir, name+".json")
}
