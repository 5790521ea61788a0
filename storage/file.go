package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// FileBackend implements a key-value store using the local file system.
// Each record is one file under the base directory, replaced atomically on save.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Load reads the record file for name.
// Returns ErrRecordNotFound if the file doesn't exist.
func (b *FileBackend) Load(ctx context.Context, name string) ([]byte, error) {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return nil, err
	}
	filePath := filepath.Join(b.baseDir, name)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Loaded record from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes the record through a temporary file and renames it into place,
// so a crash never leaves a half-written record behind.
func (b *FileBackend) Save(ctx context.Context, name string, data []byte) error {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return err
	}
	filePath := filepath.Join(b.baseDir, name)

	tmp, err := os.CreateTemp(b.baseDir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}

	b.log.Debug("Saved record to file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
