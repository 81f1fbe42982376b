// Package storage provides the object storage adapters that serve source
// tiles.
package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a local tile directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// BasePath returns the tile directory.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// List returns all tile files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !output.IsTileFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.basePath, Err: err}
	}

	output.SortObjects(objects)
	return objects, nil
}

// GetReader opens a tile file.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- key comes from List
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	return f, nil
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
