package output

import (
	"context"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// ChunkFetcher loads decoded chunk payloads on behalf of the chunk cache.
// Ids absent from the backing store are simply omitted from the result.
type ChunkFetcher interface {
	FetchChunks(ctx context.Context, ids []int) (map[int][]domain.Feature, error)
}

// ChunkFetcherFunc adapts a function to the ChunkFetcher interface.
type ChunkFetcherFunc func(ctx context.Context, ids []int) (map[int][]domain.Feature, error)

// FetchChunks implements ChunkFetcher.
func (f ChunkFetcherFunc) FetchChunks(ctx context.Context, ids []int) (map[int][]domain.Feature, error) {
	return f(ctx, ids)
}

// SourceLoader parses source tiles into feature groups.
type SourceLoader interface {
	// LoadSources returns one group per source tile, in source order.
	LoadSources(ctx context.Context) ([]domain.SourceGroup, error)
}
