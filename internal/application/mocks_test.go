package application

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/vrabczak/BuildingRadar/internal/adapters/kvstore"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/persistence"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// mockLoader implements output.SourceLoader for testing.
type mockLoader struct {
	mu     sync.Mutex
	groups []domain.SourceGroup
	err    error
	calls  int
}

func (m *mockLoader) LoadSources(_ context.Context) ([]domain.SourceGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.groups, nil
}

func (m *mockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingFetcher forwards to another fetcher and records every batch.
type recordingFetcher struct {
	next output.ChunkFetcher

	mu      sync.Mutex
	batches [][]int
}

func (r *recordingFetcher) FetchChunks(ctx context.Context, ids []int) (map[int][]domain.Feature, error) {
	batch := append([]int(nil), ids...)
	sort.Ints(batch)

	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()

	return r.next.FetchChunks(ctx, ids)
}

func (r *recordingFetcher) Batches() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

// FetchedIDs returns every fetched id in fetch order.
func (r *recordingFetcher) FetchedIDs() []int {
	var ids []int
	for _, b := range r.Batches() {
		ids = append(ids, b...)
	}
	return ids
}

// mockReloader implements Reloader for testing.
type mockReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockReloader) Reload(_ context.Context) (ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return ReloadResult{}, m.err
	}
	return ReloadResult{Features: 8, Chunks: 2}, nil
}

func (m *mockReloader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startStore runs a persistence actor over a fresh in-memory store.
func startStore(t *testing.T) (*persistence.Client, *kvstore.Memory) {
	t.Helper()

	store := kvstore.NewMemory()
	codec, err := persistence.NewCodec()
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	t.Cleanup(codec.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := persistence.Start(ctx, persistence.NewActor(store, codec, nil, testLogger()))
	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return client, store
}

func newTestEngine(client *persistence.Client, prefetch bool) *Engine {
	return NewEngine(client, &output.NoOpMetrics{}, testLogger(), EngineConfig{
		CellSize:  0.01,
		BatchSize: 2,
		Prefetch:  prefetch,
	})
}

func feature(name string, lon, lat float64) domain.Feature {
	return domain.Feature{
		Geometry:   domain.NewPoint(lon, lat),
		Properties: map[string]interface{}{"name": name},
	}
}

// pragueGroup holds three features: a1 at the center, a2 about 40 m away
// and a3 about 215 m east.
func pragueGroup() domain.SourceGroup {
	return domain.SourceGroup{
		Label: "N50E014",
		Features: []domain.Feature{
			feature("a1", 14.4200, 50.0800),
			feature("a2", 14.4205, 50.0802),
			feature("a3", 14.4230, 50.0800),
		},
	}
}

// brnoGroup holds five features east of (16.6, 49.19), four of them within
// 70 m.
func brnoGroup() domain.SourceGroup {
	return domain.SourceGroup{
		Label: "N49E016",
		Features: []domain.Feature{
			feature("b1", 16.6000, 49.1900),
			feature("b2", 16.6003, 49.1900),
			feature("b3", 16.6006, 49.1900),
			feature("b4", 16.6009, 49.1900),
			feature("b5", 16.6030, 49.1900),
		},
	}
}

func names(features []domain.Feature) []string {
	out := make([]string, 0, len(features))
	for i := range features {
		out = append(out, features[i].GetStringProperty("name"))
	}
	sort.Strings(out)
	return out
}
