package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore writes artifacts to a local directory. It is the delivery
// fallback when the object store is unreachable.
type FileSystemStore struct {
	rootDir string
	baseURL string
}

func NewFileSystemStore(rootDir, baseURL string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{
		rootDir: rootDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *FileSystemStore) Name() string { return "filesystem" }

func (s *FileSystemStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_ = ctx
	_ = contentType

	path := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
