// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
)

// TileExtensions lists the file extensions recognized as source tiles.
var TileExtensions = []string{".geojson", ".json"}

// ObjectStorage defines the secondary port for reading source tiles.
type ObjectStorage interface {
	// List returns all source tiles, sorted by key.
	List(ctx context.Context) ([]StorageObject, error)

	// GetReader returns a reader for the given tile.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageObject represents a source tile in object storage.
type StorageObject struct {
	Key          string // Object key/path relative to the storage root
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash, if the backend reports one
}

// IsTileFile reports whether name has a source tile extension.
func IsTileFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range TileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// TileLabel derives the source label from a tile key: the file name
// without directory and extension.
func TileLabel(key string) string {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// SortObjects orders objects by key so source order is stable across
// backends.
func SortObjects(objects []StorageObject) {
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
}
