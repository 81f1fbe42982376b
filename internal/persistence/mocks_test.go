package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/vrabczak/BuildingRadar/internal/adapters/kvstore"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// faultyStore wraps a KVStore and fails or panics on demand.
type faultyStore struct {
	output.KVStore
	updateErr error
	getErr    error
	panicOn   string
	block     chan struct{} // Keys waits until closed
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.panicOn == "get" {
		panic("corrupted page")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.KVStore.Get(ctx, key)
}

func (f *faultyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.block != nil {
		<-f.block
	}
	return f.KVStore.Keys(ctx, prefix)
}

func (f *faultyStore) Update(ctx context.Context, fn func(tx output.KVTx) error) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.KVStore.Update(ctx, fn)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startClient runs an actor over store for the duration of the test.
func startClient(t *testing.T, store output.KVStore) *Client {
	t.Helper()

	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	t.Cleanup(codec.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := Start(ctx, NewActor(store, codec, nil, testLogger()))
	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return c
}

// testDataset returns an index record with n chunks of two features each
// and a ChunkSource serving them.
func testDataset(n int) (*domain.IndexRecord, ChunkSource) {
	boundaries := make([]domain.ChunkBoundary, n)
	chunks := make([]domain.ChunkRecord, n)
	for id := 0; id < n; id++ {
		boundaries[id] = domain.ChunkBoundary{Start: 2 * id, End: 2*id + 2, SourceLabel: fmt.Sprintf("tile-%d", id)}
		chunks[id] = domain.ChunkRecord{
			ChunkID: id,
			Features: []domain.Feature{
				{Geometry: domain.NewPoint(float64(id), 0), Properties: map[string]interface{}{"name": fmt.Sprintf("a%d", id)}},
				{Geometry: domain.NewPoint(float64(id), 1), Properties: map[string]interface{}{"name": fmt.Sprintf("b%d", id)}},
			},
		}
	}

	index := &domain.IndexRecord{
		CellSize:        1,
		Grid:            map[domain.CellKey][]int{{X: 0, Y: 0}: {0}},
		FeatureCount:    2 * n,
		ChunkMetadata:   map[domain.CellKey][]int{{X: 0, Y: 0}: {0}},
		ChunkBoundaries: boundaries,
		Metadata:        domain.DatasetMetadata{Name: "test"},
	}
	return index, func(id int) domain.ChunkRecord { return chunks[id] }
}

func newMemoryStore() *kvstore.Memory {
	return kvstore.NewMemory()
}
