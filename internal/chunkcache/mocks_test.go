package chunkcache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// mockFetcher implements output.ChunkFetcher for testing.
type mockFetcher struct {
	mu      sync.Mutex
	chunks  map[int][]domain.Feature
	calls   [][]int
	err     error
	release chan struct{} // when set, fetches block until it is closed
}

func (m *mockFetcher) FetchChunks(ctx context.Context, ids []int) (map[int][]domain.Feature, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]int(nil), ids...))
	release := m.release
	m.mu.Unlock()

	if release != nil {
		<-release
	}
	if m.err != nil {
		return nil, m.err
	}

	out := make(map[int][]domain.Feature, len(ids))
	for _, id := range ids {
		if f, ok := m.chunks[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

func (m *mockFetcher) Calls() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int(nil), m.calls...)
}

func (m *mockFetcher) FetchedIDs() []int {
	var ids []int
	for _, call := range m.Calls() {
		ids = append(ids, call...)
	}
	return ids
}

// mockMetrics counts cache metrics.
type mockMetrics struct {
	output.NoOpMetrics
	mu        sync.Mutex
	evictions int
	missing   int
	resident  int
	lookups   int
}

func (m *mockMetrics) IncCacheLookups(_ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
}

func (m *mockMetrics) IncCacheEvictions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions += n
}

func (m *mockMetrics) IncMissingChunks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing += n
}

func (m *mockMetrics) SetChunksResident(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resident = n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testChunks builds n chunks of size features each. Feature properties carry
// the global index so lookups can be checked.
func testChunks(n, size int) ([]domain.ChunkBoundary, map[int][]domain.Feature) {
	boundaries := make([]domain.ChunkBoundary, n)
	chunks := make(map[int][]domain.Feature, n)
	for id := 0; id < n; id++ {
		start := id * size
		boundaries[id] = domain.ChunkBoundary{Start: start, End: start + size, SourceLabel: fmt.Sprintf("tile-%d", id)}
		features := make([]domain.Feature, size)
		for i := range features {
			features[i] = domain.Feature{
				Geometry:   domain.NewPoint(float64(id), float64(i)),
				Properties: map[string]interface{}{"gi": start + i},
			}
		}
		chunks[id] = features
	}
	return boundaries, chunks
}

func newTestCache(n, size, capacity int) (*Cache, *mockFetcher) {
	boundaries, chunks := testChunks(n, size)
	fetcher := &mockFetcher{chunks: chunks}
	c, err := New(boundaries, fetcher, &output.NoOpMetrics{}, testLogger(), Config{Capacity: capacity})
	if err != nil {
		panic(err)
	}
	return c, fetcher
}
