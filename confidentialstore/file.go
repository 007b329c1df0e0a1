package confidentialstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend stores each key as one file under baseDir, adapted from
// storage/file.go's directory layout but keyed by the caller-supplied string
// instead of a content hash.
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &FileBackend{baseDir: baseDir, log: log}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.baseDir, safeFileName(key))
}

func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return data, nil
}

func (b *FileBackend) Put(ctx context.Context, key string, value []byte) error {
	tmp := b.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	if err := os.Rename(tmp, b.path(key)); err != nil {
		return fmt.Errorf("committing %q: %w", key, err)
	}
	b.log.Debug("wrote confidential store entry", "key", key, "size", len(value))
	return nil
}

func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	return err == nil
}

func (b *FileBackend) Name() string { return fmt.Sprintf("file-%s", filepath.Base(b.baseDir)) }

// safeFileName hex-encodes any key containing path separators, avoiding a
// traversal through caller-supplied keys.
func safeFileName(key string) string {
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '/' || c == '\\' || c == 0 {
			return fmt.Sprintf("%x", []byte(key))
		}
	}
	return key
}
