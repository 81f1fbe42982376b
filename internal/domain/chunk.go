package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// CellKey identifies a grid cell: (floor(lon/cellSize), floor(lat/cellSize)).
type CellKey struct {
	X int32
	Y int32
}

// String serializes the key as "x:y".
func (k CellKey) String() string {
	return strconv.FormatInt(int64(k.X), 10) + ":" + strconv.FormatInt(int64(k.Y), 10)
}

// MarshalText implements encoding.TextMarshaler so cell keys can be used as
// JSON object keys.
func (k CellKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CellKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCellKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCellKey parses a key produced by CellKey.String.
func ParseCellKey(s string) (CellKey, error) {
	xs, ys, ok := strings.Cut(s, ":")
	if !ok {
		return CellKey{}, fmt.Errorf("cell key %q: %w", s, ErrInvalidInput)
	}
	x, err := strconv.ParseInt(xs, 10, 32)
	if err != nil {
		return CellKey{}, fmt.Errorf("cell key %q: %w", s, ErrInvalidInput)
	}
	y, err := strconv.ParseInt(ys, 10, 32)
	if err != nil {
		return CellKey{}, fmt.Errorf("cell key %q: %w", s, ErrInvalidInput)
	}
	return CellKey{X: int32(x), Y: int32(y)}, nil
}

// ChunkBoundary is the half-open range [Start, End) of global indices that
// forms one chunk. The chunk id is the boundary's position in build order.
type ChunkBoundary struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	SourceLabel string `json:"source_label"`
}

// Len returns the number of features in the chunk.
func (b ChunkBoundary) Len() int {
	return b.End - b.Start
}

// Contains reports whether globalIndex falls inside the chunk.
func (b ChunkBoundary) Contains(globalIndex int) bool {
	return globalIndex >= b.Start && globalIndex < b.End
}

// IndexRecord is the persisted form of the grid index plus chunk metadata.
// It never contains feature payloads.
type IndexRecord struct {
	CellSize        float64           `json:"cell_size"`
	Grid            map[CellKey][]int `json:"grid"`
	FeatureCount    int               `json:"feature_count"`
	ChunkMetadata   map[CellKey][]int `json:"chunk_metadata"`
	ChunkBoundaries []ChunkBoundary   `json:"chunk_boundaries"`
	Metadata        DatasetMetadata   `json:"metadata"`
}

// ChunkCount returns the number of chunks described by the record.
func (r *IndexRecord) ChunkCount() int {
	return len(r.ChunkBoundaries)
}

// ChunkRecord is the persisted payload of one chunk.
type ChunkRecord struct {
	ChunkID  int       `json:"chunk_id"`
	Features []Feature `json:"features"`
}
