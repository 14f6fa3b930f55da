// Package storage provides content-addressed archival of sealed key-share
// packages. Backends are created from location URIs; the backup-custody
// service fetches blobs back by content ID.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shaiss/mpc/interfaces"
)

// FileBackend stores sealed packages on the local filesystem, one file per
// content ID.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir.
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

func (b *FileBackend) filePath(id interfaces.ContentID) string {
	return filepath.Join(b.baseDir, id.String())
}

// Store writes the blob under its content ID with owner-only permissions.
func (b *FileBackend) Store(ctx context.Context, id interfaces.ContentID, data []byte) error {
	if err := os.WriteFile(b.filePath(id), data, 0600); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	b.log.Debug("stored sealed package", "path", b.filePath(id), "size", len(data))
	return nil
}

// Fetch reads a blob by content ID.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	data, err := os.ReadFile(b.filePath(id))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// LocationURI returns the backend's location URI.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
