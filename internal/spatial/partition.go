package spatial

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// ChunkLookup maps a global feature index to its chunk id.
type ChunkLookup []int32

// NewChunkLookup derives the dense lookup table from chunk boundaries. The
// boundaries must be contiguous, start at 0 and be non-empty.
func NewChunkLookup(boundaries []domain.ChunkBoundary) (ChunkLookup, error) {
	total, err := ValidateBoundaries(boundaries)
	if err != nil {
		return nil, err
	}

	lookup := make(ChunkLookup, total)
	for id, b := range boundaries {
		for i := b.Start; i < b.End; i++ {
			lookup[i] = int32(id)
		}
	}
	return lookup, nil
}

// ChunkOf returns the chunk id of a global index. An index outside the
// table is an invariant violation and panics.
func (l ChunkLookup) ChunkOf(globalIndex int) int {
	if globalIndex < 0 || globalIndex >= len(l) {
		panic(fmt.Sprintf("spatial: global index %d outside chunk lookup of %d entries", globalIndex, len(l)))
	}
	return int(l[globalIndex])
}

// ValidateBoundaries checks that boundaries are contiguous, non-overlapping,
// start at zero and that each one is non-empty. It returns the total count.
func ValidateBoundaries(boundaries []domain.ChunkBoundary) (int, error) {
	next := 0
	for id, b := range boundaries {
		if b.Start != next {
			return 0, fmt.Errorf("chunk %d starts at %d, expected %d: %w", id, b.Start, next, domain.ErrInvalidInput)
		}
		if b.End <= b.Start {
			return 0, fmt.Errorf("chunk %d has empty range [%d, %d): %w", id, b.Start, b.End, domain.ErrInvalidInput)
		}
		next = b.End
	}
	return next, nil
}

// BuildCellChunks unions, for each populated cell, the chunk ids of every
// feature in it. Lists are sorted and free of duplicates.
func BuildCellChunks(grid *Grid, lookup ChunkLookup) map[domain.CellKey][]int {
	out := make(map[domain.CellKey][]int, grid.Len())
	for key, indices := range grid.Cells() {
		var ids []int
		last := -1
		for _, gi := range indices {
			id := lookup.ChunkOf(gi)
			// Indices inside a cell are ascending, so chunk ids mostly repeat.
			if id == last {
				continue
			}
			ids = append(ids, id)
			last = id
		}
		out[key] = normalizeIDs(ids)
	}
	return out
}

// Partition is the result of partitioning source groups into chunks.
type Partition struct {
	Features   []domain.Feature
	Boundaries []domain.ChunkBoundary
	Lookup     ChunkLookup
	Grid       *Grid
	CellChunks map[domain.CellKey][]int
	Extent     domain.Extent
	Skipped    int
}

// ChunkFeatures returns the features belonging to chunk id.
func (p *Partition) ChunkFeatures(id int) []domain.Feature {
	b := p.Boundaries[id]
	return p.Features[b.Start:b.End]
}

// Sources returns the source label of each chunk in chunk order.
func (p *Partition) Sources() []string {
	labels := make([]string, len(p.Boundaries))
	for i, b := range p.Boundaries {
		labels[i] = b.SourceLabel
	}
	return labels
}

// Partitioner turns ordered source groups into tile-aligned chunks.
type Partitioner struct {
	cellSize float64
	logger   *slog.Logger
}

// NewPartitioner creates a partitioner for the given grid cell size.
func NewPartitioner(cellSize float64, logger *slog.Logger) *Partitioner {
	return &Partitioner{cellSize: cellSize, logger: logger}
}

// Partition assigns global indices in source order, emits one chunk per
// non-empty source group and indexes everything into a fresh grid.
// Malformed geometries are skipped per source; a group left with no
// features is excluded from the chunk boundaries.
func (p *Partitioner) Partition(groups []domain.SourceGroup) (*Partition, error) {
	grid, err := NewGrid(p.cellSize)
	if err != nil {
		return nil, err
	}

	total := 0
	for i := range groups {
		total += len(groups[i].Features)
	}

	result := &Partition{
		Features: make([]domain.Feature, 0, total),
		Extent:   domain.EmptyExtent(),
		Grid:     grid,
	}

	for _, group := range groups {
		start := len(result.Features)
		for i, f := range group.Features {
			if err := f.Geometry.Validate(); err != nil {
				result.Skipped++
				p.logger.Warn("skipping malformed feature",
					"error", &domain.BuildError{Source: group.Label, Index: i, Err: err},
				)
				continue
			}
			result.Features = append(result.Features, f)
			result.Extent.Extend(f.Geometry)
		}

		end := len(result.Features)
		if end == start {
			p.logger.Warn("source yielded no features, excluding from chunks", "source", group.Label)
			continue
		}

		result.Boundaries = append(result.Boundaries, domain.ChunkBoundary{
			Start:       start,
			End:         end,
			SourceLabel: group.Label,
		})
	}

	if len(result.Features) == 0 {
		return nil, domain.ErrEmptyDataset
	}

	result.Lookup, err = NewChunkLookup(result.Boundaries)
	if err != nil {
		return nil, err
	}

	grid.IndexAll(result.Features)
	result.CellChunks = BuildCellChunks(grid, result.Lookup)

	p.logger.Debug("partition built",
		"features", len(result.Features),
		"chunks", len(result.Boundaries),
		"cells", grid.Len(),
		"skipped", result.Skipped,
	)

	return result, nil
}

// normalizeIDs sorts ids ascending and removes duplicates in place.
func normalizeIDs(ids []int) []int {
	if len(ids) < 2 {
		return ids
	}
	sort.Ints(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// UnionChunks returns the sorted union of the chunk ids of the given cells.
func UnionChunks(cellChunks map[domain.CellKey][]int, keys []domain.CellKey) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, k := range keys {
		for _, id := range cellChunks[k] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
