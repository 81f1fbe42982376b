package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/persistence"
)

func TestEngineQueryEagerAndLazy(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	if _, err := engine.Build([]domain.SourceGroup{pragueGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		name   string
		radius float64
		want   []string
	}{
		{"zero radius keeps exact hit", 0, []string{"a1"}},
		{"near pair", 100, []string{"a1", "a2"}},
		{"all three", 300, []string{"a1", "a2", "a3"}},
	}

	run := func(mode string) {
		for _, tt := range tests {
			t.Run(mode+"/"+tt.name, func(t *testing.T) {
				got, err := engine.QueryRadius(ctx, 14.42, 50.08, tt.radius)
				if err != nil {
					t.Fatalf("QueryRadius() error = %v", err)
				}
				if diff := cmp.Diff(tt.want, names(got)); diff != "" {
					t.Errorf("features mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}

	run(ModeEager)

	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{Name: "prague"})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	capacity, err := engine.EnableLazyMode(nil, chunkcache.Hints{})
	if err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}
	if capacity != chunkcache.MinFractionCapacity {
		t.Errorf("capacity = %d, want %d", capacity, chunkcache.MinFractionCapacity)
	}
	if !engine.Info().Lazy {
		t.Fatal("engine should be lazy")
	}

	run(ModeLazy)
}

func TestEngineEndToEndFetchesOnlyNeededChunks(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)

	builder := newTestEngine(client, false)
	built, err := builder.Build([]domain.SourceGroup{pragueGroup(), brnoGroup()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if built.Index.FeatureCount != 8 || built.Index.ChunkCount() != 2 {
		t.Fatalf("built %d features in %d chunks, want 8 in 2", built.Index.FeatureCount, built.Index.ChunkCount())
	}
	if err := persistence.Drain(builder.Persist(ctx, domain.DatasetMetadata{Name: "cz"})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	engine := newTestEngine(client, false)
	res, found, err := engine.Restore(ctx)
	if err != nil || !found {
		t.Fatalf("Restore() = %v, %v", found, err)
	}
	if res.ChunkCount != 2 || res.Metadata.Name != "cz" {
		t.Errorf("Restore() = %+v", res)
	}
	if engine.Ready() {
		t.Error("restored engine should not serve queries before lazy mode")
	}

	fetcher := &recordingFetcher{next: client}
	if _, err := engine.EnableLazyMode(fetcher, chunkcache.Hints{}); err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}

	got, err := engine.QueryRadius(ctx, 16.60, 49.19, 100)
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	if diff := cmp.Diff([]string{"b1", "b2", "b3", "b4"}, names(got)); diff != "" {
		t.Errorf("brno mismatch (-want +got):\n%s", diff)
	}

	got, err = engine.QueryRadius(ctx, 14.42, 50.08, 100)
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a1", "a2"}, names(got)); diff != "" {
		t.Errorf("prague mismatch (-want +got):\n%s", diff)
	}

	// Both chunks are resident now.
	if _, err := engine.QueryRadius(ctx, 16.60, 49.19, 100); err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}

	if diff := cmp.Diff([][]int{{1}, {0}}, fetcher.Batches()); diff != "" {
		t.Errorf("fetch batches mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineSharedCellFetchesBothChunksOnce(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)

	// Both groups fall in cell (1442, 5008), so that cell maps to chunks 0 and 1.
	west := domain.SourceGroup{
		Label: "N50E014-west",
		Features: []domain.Feature{
			feature("w1", 14.4210, 50.0810),
			feature("w2", 14.4220, 50.0820),
			feature("w3", 14.4290, 50.0890),
		},
	}
	east := domain.SourceGroup{
		Label: "N50E014-east",
		Features: []domain.Feature{
			feature("e1", 14.4215, 50.0815),
			feature("e2", 14.4225, 50.0812),
			feature("e3", 14.4240, 50.0850),
			feature("e4", 14.4200, 50.0800),
			feature("e5", 14.4280, 50.0880),
		},
	}

	builder := newTestEngine(client, false)
	built, err := builder.Build([]domain.SourceGroup{west, east})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, built.Index.ChunkMetadata[domain.CellKey{X: 1442, Y: 5008}]); diff != "" {
		t.Fatalf("cell chunks mismatch (-want +got):\n%s", diff)
	}
	if err := persistence.Drain(builder.Persist(ctx, domain.DatasetMetadata{Name: "seam"})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	engine := newTestEngine(client, false)
	if _, found, err := engine.Restore(ctx); err != nil || !found {
		t.Fatalf("Restore() = %v, %v", found, err)
	}
	fetcher := &recordingFetcher{next: client}
	if _, err := engine.EnableLazyMode(fetcher, chunkcache.Hints{}); err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}

	center := domain.NewPoint(14.4220, 50.0815)
	const radius = 150.0
	got, err := engine.QueryRadius(ctx, center.Lon, center.Lat, radius)
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}

	var want []string
	for _, g := range []domain.SourceGroup{west, east} {
		for i := range g.Features {
			if center.DistanceMeters(g.Features[i].Geometry) <= radius {
				want = append(want, g.Features[i].GetStringProperty("name"))
			}
		}
	}
	sort.Strings(want)

	if diff := cmp.Diff([]string{"e1", "e2", "w1", "w2"}, want); diff != "" {
		t.Fatalf("brute force mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, names(got)); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int{{0, 1}}, fetcher.Batches()); diff != "" {
		t.Errorf("fetch batches mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)
	engine := newTestEngine(client, true)

	rng := rand.New(rand.NewPCG(7, 11))
	var groups []domain.SourceGroup
	var all []domain.Feature
	for g := 0; g < 4; g++ {
		group := domain.SourceGroup{Label: fmt.Sprintf("tile-%d", g)}
		for i := 0; i < 60; i++ {
			f := feature(fmt.Sprintf("f%d-%d", g, i), 14.40+rng.Float64()*0.08, 50.04+rng.Float64()*0.08)
			group.Features = append(group.Features, f)
			all = append(all, f)
		}
		groups = append(groups, group)
	}

	if _, err := engine.Build(groups); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	type sample struct {
		center domain.Point
		radius float64
	}
	var samples []sample
	for i := 0; i < 25; i++ {
		samples = append(samples, sample{
			center: domain.NewPoint(14.38+rng.Float64()*0.12, 50.02+rng.Float64()*0.12),
			radius: rng.Float64() * 1500,
		})
	}

	bruteForce := func(p sample) []string {
		var hits []domain.Feature
		for _, f := range all {
			if p.center.DistanceMeters(f.Geometry) <= p.radius {
				hits = append(hits, f)
			}
		}
		return names(hits)
	}

	check := func(mode string) {
		for i, p := range samples {
			got, err := engine.QueryRadius(ctx, p.center.Lon, p.center.Lat, p.radius)
			if err != nil {
				t.Fatalf("%s sample %d: QueryRadius() error = %v", mode, i, err)
			}
			if diff := cmp.Diff(bruteForce(p), names(got)); diff != "" {
				t.Errorf("%s sample %d (%v, %.0f m) mismatch (-want +got):\n%s", mode, i, p.center, p.radius, diff)
			}
		}
	}

	check(ModeEager)

	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if _, err := engine.EnableLazyMode(nil, chunkcache.Hints{Device: chunkcache.DeviceLow}); err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}

	check(ModeLazy)
	engine.waitPrefetch()

	stats, ok := engine.CacheStats()
	if !ok {
		t.Fatal("CacheStats() should report a cache in lazy mode")
	}
	if stats.Resident > stats.Capacity {
		t.Errorf("resident %d exceeds capacity %d with no query in flight", stats.Resident, stats.Capacity)
	}
}

func TestEnginePersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client, store := startStore(t)
	engine := newTestEngine(client, false)

	if _, err := engine.Build([]domain.SourceGroup{pragueGroup(), brnoGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	snapshot := func() map[string][]byte {
		s := store.Snapshot()
		delete(s, persistence.ManifestKey)
		return s
	}

	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{Name: "cz"})); err != nil {
		t.Fatalf("first Persist() error = %v", err)
	}
	first := snapshot()

	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{Name: "cz"})); err != nil {
		t.Fatalf("second Persist() error = %v", err)
	}
	if diff := cmp.Diff(first, snapshot()); diff != "" {
		t.Errorf("store changed on repeated persist (-first +second):\n%s", diff)
	}

	restored := newTestEngine(client, false)
	if _, found, err := restored.Restore(ctx); err != nil || !found {
		t.Fatalf("Restore() = %v, %v", found, err)
	}
	if _, err := restored.EnableLazyMode(nil, chunkcache.Hints{}); err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}

	for _, c := range []domain.Point{domain.NewPoint(14.42, 50.08), domain.NewPoint(16.6, 49.19)} {
		want, err := engine.QueryRadius(ctx, c.Lon, c.Lat, 250)
		if err != nil {
			t.Fatalf("eager QueryRadius() error = %v", err)
		}
		got, err := restored.QueryRadius(ctx, c.Lon, c.Lat, 250)
		if err != nil {
			t.Fatalf("lazy QueryRadius() error = %v", err)
		}
		if diff := cmp.Diff(names(want), names(got)); diff != "" {
			t.Errorf("restored query at %v mismatch (-want +got):\n%s", c, diff)
		}
	}
}

func TestEnginePersistEvents(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	if _, err := engine.Build([]domain.SourceGroup{pragueGroup(), brnoGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var kinds []persistence.EventKind
	for ev, err := range engine.Persist(ctx, domain.DatasetMetadata{}) {
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		kinds = append(kinds, ev.Kind)
	}

	// Batch size 2 writes both chunks in one batch.
	want := []persistence.EventKind{
		persistence.EventStarted,
		persistence.EventIndexWritten,
		persistence.EventBatchWritten,
		persistence.EventFinalized,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEnginePersistStoppedEarly(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	if _, err := engine.Build([]domain.SourceGroup{pragueGroup(), brnoGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for ev, err := range engine.Persist(ctx, domain.DatasetMetadata{}) {
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if ev.Kind == persistence.EventIndexWritten {
			break
		}
	}

	if _, found, err := newTestEngine(client, false).Restore(ctx); err != nil || found {
		t.Errorf("Restore() after aborted persist = %v, %v; want not found", found, err)
	}
}

// saveIndex writes rec as a completed save, one single-feature chunk per
// boundary.
func saveIndex(t *testing.T, client *persistence.Client, rec *domain.IndexRecord) {
	t.Helper()
	ctx := context.Background()

	started, err := client.InitSave(ctx, rec)
	if err != nil {
		t.Fatalf("InitSave() error = %v", err)
	}
	chunks := make([]domain.ChunkRecord, len(rec.ChunkBoundaries))
	for id := range chunks {
		chunks[id] = domain.ChunkRecord{ChunkID: id, Features: []domain.Feature{feature("x", 14.42, 50.08)}}
	}
	if _, err := client.SaveChunks(ctx, started.SaveID, chunks); err != nil {
		t.Fatalf("SaveChunks() error = %v", err)
	}
	if _, err := client.FinalizeSave(ctx, started.SaveID); err != nil {
		t.Fatalf("FinalizeSave() error = %v", err)
	}
}

func TestEngineRestoreRejectsInconsistentIndex(t *testing.T) {
	cell := domain.CellKey{X: 1442, Y: 5008}
	valid := func() *domain.IndexRecord {
		return &domain.IndexRecord{
			CellSize:        0.01,
			Grid:            map[domain.CellKey][]int{cell: {0, 1}},
			FeatureCount:    2,
			ChunkMetadata:   map[domain.CellKey][]int{cell: {0}},
			ChunkBoundaries: []domain.ChunkBoundary{{Start: 0, End: 2, SourceLabel: "N50E014"}},
		}
	}

	tests := []struct {
		name    string
		corrupt func(*domain.IndexRecord)
	}{
		{"feature count above boundaries", func(r *domain.IndexRecord) { r.FeatureCount = 3 }},
		{"feature count below boundaries", func(r *domain.IndexRecord) {
			r.FeatureCount = 1
			r.Grid = map[domain.CellKey][]int{cell: {0}}
		}},
		{"gap between boundaries", func(r *domain.IndexRecord) {
			r.ChunkBoundaries = []domain.ChunkBoundary{{Start: 0, End: 1}, {Start: 2, End: 3}}
		}},
		{"grid index past feature count", func(r *domain.IndexRecord) { r.Grid[cell] = []int{0, 2} }},
		{"negative grid index", func(r *domain.IndexRecord) { r.Grid[cell] = []int{-1, 0} }},
		{"cell names unknown chunk", func(r *domain.IndexRecord) { r.ChunkMetadata[cell] = []int{0, 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := startStore(t)
			rec := valid()
			tt.corrupt(rec)
			saveIndex(t, client, rec)

			engine := newTestEngine(client, false)
			_, found, err := engine.Restore(context.Background())
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("Restore() error = %v, want ErrInvalidInput", err)
			}
			if found {
				t.Error("Restore() reported found for a rejected index")
			}
			if engine.Info().Loaded {
				t.Error("rejected index must not become the active dataset")
			}
		})
	}

	t.Run("consistent record restores", func(t *testing.T) {
		client, _ := startStore(t)
		saveIndex(t, client, valid())
		if _, found, err := newTestEngine(client, false).Restore(context.Background()); err != nil || !found {
			t.Errorf("Restore() = %v, %v", found, err)
		}
	})
}

func TestEngineNotReady(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	_, err := engine.QueryRadius(ctx, 14.42, 50.08, 100)
	var qerr *domain.QueryError
	if !errors.As(err, &qerr) || !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("QueryRadius() error = %v, want QueryError wrapping ErrNotReady", err)
	}

	if _, err := engine.EnableLazyMode(nil, chunkcache.Hints{}); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("EnableLazyMode() error = %v, want ErrNotReady", err)
	}

	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{})); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Persist() error = %v, want ErrNotReady", err)
	}

	if _, found, err := engine.Restore(ctx); err != nil || found {
		t.Errorf("Restore() on empty store = %v, %v", found, err)
	}
}

func TestEngineEmptyBuild(t *testing.T) {
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	_, err := engine.Build([]domain.SourceGroup{{Label: "empty"}})
	if !errors.Is(err, domain.ErrEmptyDataset) {
		t.Errorf("Build() error = %v, want ErrEmptyDataset", err)
	}
	if engine.Ready() {
		t.Error("failed build should not publish a dataset")
	}
}

func TestEngineQueryValidation(t *testing.T) {
	client, _ := startStore(t)
	engine := newTestEngine(client, false)
	if _, err := engine.Build([]domain.SourceGroup{pragueGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		name string
		q    domain.RadiusQuery
	}{
		{"negative radius", domain.RadiusQuery{Center: domain.NewPoint(14.42, 50.08), RadiusMeters: -1}},
		{"latitude out of range", domain.RadiusQuery{Center: domain.NewPoint(14.42, 91), RadiusMeters: 10}},
		{"negative limit", domain.RadiusQuery{Center: domain.NewPoint(14.42, 50.08), RadiusMeters: 10, Limit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.Query(context.Background(), tt.q); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Query() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEngineQueryLimit(t *testing.T) {
	client, _ := startStore(t)
	engine := newTestEngine(client, false)
	if _, err := engine.Build([]domain.SourceGroup{pragueGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	res, err := engine.Query(context.Background(), domain.RadiusQuery{
		Center:       domain.NewPoint(14.42, 50.08),
		RadiusMeters: 300,
		Limit:        2,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.FeatureCount() != 2 || !res.Truncated {
		t.Errorf("Query() = %d features, truncated %v; want 2, true", res.FeatureCount(), res.Truncated)
	}
	if res.Lazy {
		t.Error("eager result reported as lazy")
	}
}

func TestEnginePrefetchesRing(t *testing.T) {
	ctx := context.Background()
	client, _ := startStore(t)

	groups := []domain.SourceGroup{
		{Label: "center", Features: []domain.Feature{feature("c", 14.4245, 50.0845)}},
		{Label: "east", Features: []domain.Feature{feature("e", 14.4445, 50.0845)}},
		brnoGroup(),
	}

	builder := newTestEngine(client, false)
	if _, err := builder.Build(groups); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := persistence.Drain(builder.Persist(ctx, domain.DatasetMetadata{})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	engine := newTestEngine(client, true)
	if _, _, err := engine.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	fetcher := &recordingFetcher{next: client}
	if _, err := engine.EnableLazyMode(fetcher, chunkcache.Hints{}); err != nil {
		t.Fatalf("EnableLazyMode() error = %v", err)
	}

	got, err := engine.QueryRadius(ctx, 14.4245, 50.0845, 100)
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	if diff := cmp.Diff([]string{"c"}, names(got)); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	engine.waitPrefetch()

	// The ring chunk is already resident.
	if _, err := engine.QueryRadius(ctx, 14.4445, 50.0845, 100); err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	engine.waitPrefetch()

	if diff := cmp.Diff([]int{0, 1}, fetcher.FetchedIDs()); diff != "" {
		t.Errorf("fetched ids mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineClear(t *testing.T) {
	ctx := context.Background()
	client, store := startStore(t)
	engine := newTestEngine(client, false)

	if _, err := engine.Build([]domain.SourceGroup{pragueGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := persistence.Drain(engine.Persist(ctx, domain.DatasetMetadata{})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if err := engine.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if engine.Ready() || engine.Info().Loaded {
		t.Error("engine should hold no dataset after Clear")
	}
	if n := store.Len(); n != 0 {
		t.Errorf("store holds %d keys after Clear", n)
	}
	if _, found, err := engine.Restore(ctx); err != nil || found {
		t.Errorf("Restore() after Clear = %v, %v", found, err)
	}
}
