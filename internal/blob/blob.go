// Package blob abstracts binary payload storage. Delivery (CDN, signed
// URLs) is an external concern; the engine only saves and deletes.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage stores file payloads keyed by entry id.
type Storage interface {
	Save(ctx context.Context, id string, r io.Reader) (int64, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// DiskStorage is a flat-directory implementation for single-node deployments.
type DiskStorage struct {
	dir string
}

func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

func (d *DiskStorage) path(id string) string {
	// ids are uuids; Base strips anything path-like regardless.
	return filepath.Join(d.dir, filepath.Base(id))
}

func (d *DiskStorage) Save(_ context.Context, id string, r io.Reader) (int64, error) {
	f, err := os.Create(d.path(id))
	if err != nil {
		return 0, fmt.Errorf("create blob %s: %w", id, err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(d.path(id))
		return 0, fmt.Errorf("write blob %s: %w", id, err)
	}
	return n, nil
}

func (d *DiskStorage) Open(_ context.Context, id string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(id))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

func (d *DiskStorage) Delete(_ context.Context, id string) error {
	if err := os.Remove(d.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}
