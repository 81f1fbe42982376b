package application

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/persistence"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
	"github.com/vrabczak/BuildingRadar/internal/spatial"
)

// Query modes, used as metric labels.
const (
	ModeEager = "eager"
	ModeLazy  = "lazy"
)

// DatasetStore is the durable side of the engine, served by the
// persistence actor client.
type DatasetStore interface {
	output.ChunkFetcher
	Save(ctx context.Context, index *domain.IndexRecord, chunks persistence.ChunkSource, batchSize int) iter.Seq2[persistence.PersistEvent, error]
	Restore(ctx context.Context) (persistence.RestoreResponse, error)
	Clear(ctx context.Context) (int, error)
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	CellSize  float64 // Grid cell size in degrees for new builds
	BatchSize int     // Chunks written per store transaction
	Prefetch  bool    // Prefetch the ring around lazy queries
}

// BuildResult describes a freshly built dataset.
type BuildResult struct {
	Index   *domain.IndexRecord // Grid, chunk metadata and boundaries
	Skipped int                 // Malformed features dropped
}

// RestoreResult describes a dataset restored from the store.
type RestoreResult struct {
	Index      *domain.IndexRecord
	ChunkCount int
	Metadata   domain.DatasetMetadata
}

// DatasetInfo is a snapshot of the active dataset.
type DatasetInfo struct {
	Loaded       bool                   `json:"loaded"`
	Lazy         bool                   `json:"lazy"`
	CellSize     float64                `json:"cell_size,omitempty"`
	FeatureCount int                    `json:"feature_count"`
	ChunkCount   int                    `json:"chunk_count"`
	CellCount    int                    `json:"cell_count"`
	Metadata     domain.DatasetMetadata `json:"metadata"`
}

// dataset is immutable once published; only the cache mutates internally.
type dataset struct {
	grid       *spatial.Grid
	boundaries []domain.ChunkBoundary
	cellChunks map[domain.CellKey][]int
	features   []domain.Feature  // set in eager mode
	cache      *chunkcache.Cache // set in lazy mode
	metadata   domain.DatasetMetadata
}

func (d *dataset) indexRecord() *domain.IndexRecord {
	return &domain.IndexRecord{
		CellSize:        d.grid.CellSize(),
		Grid:            d.grid.Cells(),
		FeatureCount:    d.grid.FeatureCount(),
		ChunkMetadata:   d.cellChunks,
		ChunkBoundaries: d.boundaries,
		Metadata:        d.metadata,
	}
}

// Engine owns one dataset: its grid index, chunk tables and either the full
// feature array or a chunk cache.
type Engine struct {
	store   DatasetStore
	metrics output.MetricsCollector
	logger  *slog.Logger
	cfg     EngineConfig

	mu   sync.RWMutex
	data *dataset
}

// NewEngine creates an engine with no dataset.
func NewEngine(store DatasetStore, metrics output.MetricsCollector, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = persistence.DefaultBatchSize
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Engine{
		store:   store,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

func (e *Engine) current() *dataset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

func (e *Engine) publish(d *dataset) {
	e.mu.Lock()
	old := e.data
	e.data = d
	e.mu.Unlock()

	if old != nil && old.cache != nil && (d == nil || d.cache != old.cache) {
		old.cache.Reset()
	}
}

// Build partitions the groups into chunks, indexes every feature and makes
// the result the active dataset in eager mode.
func (e *Engine) Build(groups []domain.SourceGroup) (*BuildResult, error) {
	start := time.Now()

	p, err := spatial.NewPartitioner(e.cfg.CellSize, e.logger).Partition(groups)
	if err != nil {
		return nil, err
	}

	extent := p.Extent
	d := &dataset{
		grid:       p.Grid,
		boundaries: p.Boundaries,
		cellChunks: p.CellChunks,
		features:   p.Features,
		metadata: domain.DatasetMetadata{
			Sources: p.Sources(),
			BuiltAt: time.Now().UTC(),
			Extent:  &extent,
			Skipped: p.Skipped,
		},
	}
	e.publish(d)

	e.logger.Info("dataset built",
		"features", len(p.Features),
		"chunks", len(p.Boundaries),
		"cells", p.Grid.Len(),
		"skipped", p.Skipped,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &BuildResult{Index: d.indexRecord(), Skipped: p.Skipped}, nil
}

// Persist writes the active, fully resident dataset to the store. Fields of
// metadata left empty are filled from the build. The sequence yields
// progress events; stopping it early cancels the save.
func (e *Engine) Persist(ctx context.Context, metadata domain.DatasetMetadata) iter.Seq2[persistence.PersistEvent, error] {
	d := e.current()
	if d == nil || d.features == nil {
		return func(yield func(persistence.PersistEvent, error) bool) {
			yield(persistence.PersistEvent{}, fmt.Errorf("persist needs a built dataset: %w", domain.ErrNotReady))
		}
	}

	meta := mergeMetadata(metadata, d.metadata)
	saved := *d
	saved.metadata = meta
	e.publish(&saved)

	chunk := func(id int) domain.ChunkRecord {
		b := d.boundaries[id]
		return domain.ChunkRecord{ChunkID: id, Features: d.features[b.Start:b.End]}
	}
	return e.store.Save(ctx, saved.indexRecord(), chunk, e.cfg.BatchSize)
}

func mergeMetadata(m, built domain.DatasetMetadata) domain.DatasetMetadata {
	if m.Sources == nil {
		m.Sources = built.Sources
	}
	if m.BuiltAt.IsZero() {
		m.BuiltAt = built.BuiltAt
	}
	if m.Extent == nil {
		m.Extent = built.Extent
	}
	if m.Skipped == 0 {
		m.Skipped = built.Skipped
	}
	if m.Name == "" {
		m.Name = built.Name
	}
	return m
}

// Restore loads the persisted index, without chunk payloads, and makes it
// the active dataset. Queries need EnableLazyMode afterwards. The boolean
// is false when the store holds no completed save.
func (e *Engine) Restore(ctx context.Context) (*RestoreResult, bool, error) {
	resp, err := e.store.Restore(ctx)
	if err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}

	rec := resp.Index
	total, err := spatial.ValidateBoundaries(rec.ChunkBoundaries)
	if err != nil {
		return nil, false, fmt.Errorf("restored index: %w", err)
	}
	if total != rec.FeatureCount {
		return nil, false, fmt.Errorf("restored index: boundaries cover %d features, record has %d: %w",
			total, rec.FeatureCount, domain.ErrInvalidInput)
	}
	grid, err := spatial.RestoreGrid(rec.CellSize, rec.Grid, rec.FeatureCount)
	if err != nil {
		return nil, false, fmt.Errorf("restored index: %w", err)
	}

	cellChunks := rec.ChunkMetadata
	if cellChunks == nil {
		lookup, err := spatial.NewChunkLookup(rec.ChunkBoundaries)
		if err != nil {
			return nil, false, err
		}
		cellChunks = spatial.BuildCellChunks(grid, lookup)
	}
	for key, ids := range cellChunks {
		for _, id := range ids {
			if id < 0 || id >= len(rec.ChunkBoundaries) {
				return nil, false, fmt.Errorf("restored index: cell %s names chunk %d of %d: %w",
					key, id, len(rec.ChunkBoundaries), domain.ErrInvalidInput)
			}
		}
	}

	e.publish(&dataset{
		grid:       grid,
		boundaries: rec.ChunkBoundaries,
		cellChunks: cellChunks,
		metadata:   rec.Metadata,
	})

	e.logger.Info("dataset restored",
		"features", rec.FeatureCount,
		"chunks", resp.ChunkCount,
		"cells", grid.Len(),
	)

	return &RestoreResult{Index: rec, ChunkCount: resp.ChunkCount, Metadata: rec.Metadata}, true, nil
}

// EnableLazyMode drops resident feature payloads and serves queries from a
// chunk cache fed by fetcher, or by the store when fetcher is nil. It
// returns the applied cache capacity.
func (e *Engine) EnableLazyMode(fetcher output.ChunkFetcher, hints chunkcache.Hints) (int, error) {
	d := e.current()
	if d == nil {
		return 0, fmt.Errorf("lazy mode needs a dataset: %w", domain.ErrNotReady)
	}
	if fetcher == nil {
		fetcher = e.store
	}

	capacity := chunkcache.TuneCapacity(hints, len(d.boundaries))
	cache, err := chunkcache.New(d.boundaries, fetcher, e.metrics, e.logger, chunkcache.Config{Capacity: capacity})
	if err != nil {
		return 0, err
	}

	lazy := *d
	lazy.features = nil
	lazy.cache = cache
	e.publish(&lazy)

	e.logger.Info("lazy mode enabled",
		"capacity", capacity,
		"chunks", len(d.boundaries),
		"device", hints.Device,
	)
	return capacity, nil
}

// QueryRadius returns every feature within radiusMeters of (lon, lat), in
// no particular order.
func (e *Engine) QueryRadius(ctx context.Context, lon, lat, radiusMeters float64) ([]domain.Feature, error) {
	res, err := e.Query(ctx, domain.RadiusQuery{Center: domain.NewPoint(lon, lat), RadiusMeters: radiusMeters})
	if err != nil {
		return nil, err
	}
	return res.Features, nil
}

// Query runs a radius query. With a limit, scanning stops once the limit is
// reached and the result is marked truncated.
func (e *Engine) Query(ctx context.Context, q domain.RadiusQuery) (*domain.QueryResult, error) {
	start := time.Now()

	if err := q.Validate(); err != nil {
		return nil, &domain.QueryError{Center: q.Center, Err: err}
	}

	d := e.current()
	if d == nil || (d.features == nil && d.cache == nil) {
		return nil, &domain.QueryError{Center: q.Center, Err: domain.ErrNotReady}
	}

	mode := ModeEager
	if d.cache != nil {
		mode = ModeLazy
	}

	result, err := e.query(ctx, d, q)
	e.metrics.IncQueryCount(mode, err == nil)
	e.metrics.ObserveQueryDuration(mode, time.Since(start))
	if err != nil {
		return nil, &domain.QueryError{Center: q.Center, Err: err}
	}

	result.Lazy = d.cache != nil
	result.QueryTime = time.Since(start)
	return result, nil
}

func (e *Engine) query(ctx context.Context, d *dataset, q domain.RadiusQuery) (*domain.QueryResult, error) {
	c := q.Center
	keys := d.grid.CellsInRadius(c.Lon, c.Lat, q.RadiusMeters)

	get := func(gi int) (domain.Feature, bool) {
		return d.features[gi], true
	}

	var ids []int
	if d.cache != nil {
		ids = spatial.UnionChunks(d.cellChunks, keys)
		pin, err := d.cache.EnsureLoaded(ctx, ids)
		if err != nil {
			return nil, err
		}
		defer pin.Release()
		get = d.cache.Get
	}

	result := &domain.QueryResult{Features: []domain.Feature{}}
scan:
	for _, key := range keys {
		for _, gi := range d.grid.Cell(key) {
			f, ok := get(gi)
			if !ok {
				continue
			}
			if c.DistanceMeters(f.Geometry) > q.RadiusMeters {
				continue
			}
			if q.Limit > 0 && len(result.Features) == q.Limit {
				result.Truncated = true
				break scan
			}
			result.Features = append(result.Features, f)
		}
	}

	if d.cache != nil && e.cfg.Prefetch {
		e.prefetchRing(ctx, d, q, ids)
	}
	return result, nil
}

// prefetchRing schedules loading of the chunks of the one-cell-wider ring
// around the query, within the room the query's own chunks leave.
func (e *Engine) prefetchRing(ctx context.Context, d *dataset, q domain.RadiusQuery, loaded []int) {
	room := d.cache.Capacity() - len(loaded)
	if room <= 0 {
		return
	}

	ring := spatial.UnionChunks(d.cellChunks, d.grid.RingAround(q.Center.Lon, q.Center.Lat, q.RadiusMeters))
	have := make(map[int]struct{}, len(loaded))
	for _, id := range loaded {
		have[id] = struct{}{}
	}

	var ids []int
	for _, id := range ring {
		if _, ok := have[id]; ok {
			continue
		}
		ids = append(ids, id)
		if len(ids) == room {
			break
		}
	}
	d.cache.Prefetch(ctx, ids)
}

// Clear removes the persisted dataset and drops the in-memory one.
func (e *Engine) Clear(ctx context.Context) error {
	removed, err := e.store.Clear(ctx)
	if err != nil {
		return err
	}
	e.publish(nil)
	e.logger.Info("dataset cleared", "chunks_removed", removed)
	return nil
}

// Info returns a snapshot of the active dataset.
func (e *Engine) Info() DatasetInfo {
	d := e.current()
	if d == nil {
		return DatasetInfo{}
	}
	return DatasetInfo{
		Loaded:       true,
		Lazy:         d.cache != nil,
		CellSize:     d.grid.CellSize(),
		FeatureCount: d.grid.FeatureCount(),
		ChunkCount:   len(d.boundaries),
		CellCount:    d.grid.Len(),
		Metadata:     d.metadata,
	}
}

// CacheStats returns the chunk cache counters; false in eager mode.
func (e *Engine) CacheStats() (chunkcache.Stats, bool) {
	d := e.current()
	if d == nil || d.cache == nil {
		return chunkcache.Stats{}, false
	}
	return d.cache.Stats(), true
}

// Ready reports whether queries can be served.
func (e *Engine) Ready() bool {
	d := e.current()
	return d != nil && (d.features != nil || d.cache != nil)
}

// waitPrefetch blocks until background prefetches of the active cache end.
func (e *Engine) waitPrefetch() {
	if d := e.current(); d != nil && d.cache != nil {
		d.cache.WaitPrefetch()
	}
}
