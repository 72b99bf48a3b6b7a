package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// File keeps every key in one JSON object on disk, the layout of the extension's local storage area.
// Writes go to a temp file that is renamed over the original.
type File struct {
	path string
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewFile creates a file store at path. A leading ~ is expanded to the home directory.
func NewFile(path string, logger *zap.Logger) (*File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand storage path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: expanded, log: logger}, nil
}

// Path returns the expanded location of the storage file.
func (f *File) Path() string { return f.path }

func (f *File) Get(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	area, err := f.load()
	if err != nil {
		return nil, err
	}
	raw, ok := area[key]
	if !ok {
		return []string{}, nil
	}
	return decode(raw)
}

func (f *File) Set(ctx context.Context, key string, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	area, err := f.load()
	if err != nil {
		return err
	}
	raw, err := encode(values)
	if err != nil {
		return err
	}
	area[key] = raw
	return f.save(area)
}

func (f *File) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *File) load() (map[string]jsonRaw, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]jsonRaw), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	area := make(map[string]jsonRaw)
	if len(data) == 0 {
		return area, nil
	}
	if err := json.Unmarshal(data, &area); err != nil {
		return nil, fmt.Errorf("failed to parse storage file %s: %w", f.path, err)
	}
	return area, nil
}

func (f *File) save(area map[string]jsonRaw) error {
	data, err := json.MarshalIndent(area, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		// Only does anything when the rename below did not happen.
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	f.log.Debug("Storage file written.", zap.String("path", f.path), zap.Int("keys", len(area)))
	return nil
}
