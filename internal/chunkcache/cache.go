// Package chunkcache keeps a bounded, least-recently-used set of decoded
// chunks resident in memory and loads missing ones through a ChunkFetcher.
package chunkcache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
	"github.com/vrabczak/BuildingRadar/internal/spatial"
)

// Config holds cache configuration.
type Config struct {
	Capacity int // Tuned capacity, see TuneCapacity
}

type entry struct {
	id         int
	start      int
	features   []domain.Feature
	lastAccess uint64
	loadedAt   time.Time
}

// batch is one fetch shared by every caller waiting on its ids.
type batch struct {
	done chan struct{}
	err  error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Resident   int    `json:"resident"`
	Capacity   int    `json:"capacity"`
	Pinned     int    `json:"pinned"`
	ChunkCount int    `json:"chunk_count"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Loads      uint64 `json:"loads"`
	Evictions  uint64 `json:"evictions"`
	Missing    uint64 `json:"missing"`
}

// Cache is the chunk cache. It is safe for concurrent use; fetches run
// outside the lock and overlapping loads of the same id share one fetch.
type Cache struct {
	boundaries []domain.ChunkBoundary
	lookup     spatial.ChunkLookup
	fetcher    output.ChunkFetcher
	capacity   int
	metrics    output.MetricsCollector
	logger     *slog.Logger

	mu       sync.Mutex
	lru      *list.List // of *entry, most recent at front
	entries  map[int]*list.Element
	inflight map[int]*batch
	pins     map[int]int
	clock    uint64
	gen      uint64
	last     *entry // last resolved range
	stats    Stats

	prefetches sync.WaitGroup
}

// New creates a cache over the given chunk boundaries.
func New(
	boundaries []domain.ChunkBoundary,
	fetcher output.ChunkFetcher,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) (*Cache, error) {
	lookup, err := spatial.NewChunkLookup(boundaries)
	if err != nil {
		return nil, err
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	return &Cache{
		boundaries: boundaries,
		lookup:     lookup,
		fetcher:    fetcher,
		capacity:   cfg.Capacity,
		metrics:    metrics,
		logger:     logger,
		lru:        list.New(),
		entries:    make(map[int]*list.Element),
		inflight:   make(map[int]*batch),
		pins:       make(map[int]int),
	}, nil
}

// Capacity returns the applied capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}

// ChunkCount returns the number of chunks the cache can address.
func (c *Cache) ChunkCount() int {
	return len(c.boundaries)
}

// EnsureLoaded makes every id resident, fetching the missing ones in a
// single batch, and pins them until the returned Pin is released. Ids that
// the store does not have are skipped; their features are simply absent.
// ctx bounds the wait only: a fetch already issued runs to completion.
func (c *Cache) EnsureLoaded(ctx context.Context, ids []int) (*Pin, error) {
	return c.load(ctx, ids, true)
}

// load backs EnsureLoaded and Prefetch. Hit and miss counters only track
// query lookups, so prefetches pass countLookups false.
func (c *Cache) load(ctx context.Context, ids []int, countLookups bool) (*Pin, error) {
	ids = uniqueIDs(ids)
	for _, id := range ids {
		if id < 0 || id >= len(c.boundaries) {
			return nil, fmt.Errorf("chunk id %d outside [0, %d): %w", id, len(c.boundaries), domain.ErrInvalidInput)
		}
	}

	c.mu.Lock()
	var (
		missing []int
		waits   []*batch
	)
	for _, id := range ids {
		c.pins[id]++

		el, resident := c.entries[id]
		if countLookups {
			if resident {
				c.stats.Hits++
			} else {
				c.stats.Misses++
			}
			c.metrics.IncCacheLookups(resident)
		}
		if resident {
			c.touch(el)
			continue
		}

		if b, ok := c.inflight[id]; ok {
			waits = append(waits, b)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		b := &batch{done: make(chan struct{})}
		for _, id := range missing {
			c.inflight[id] = b
		}
		waits = append(waits, b)
		go c.fetch(context.WithoutCancel(ctx), c.gen, missing, b)
	}
	c.mu.Unlock()

	pin := &Pin{cache: c, ids: ids}

	for _, b := range dedupBatches(waits) {
		select {
		case <-ctx.Done():
			pin.Release()
			return nil, ctx.Err()
		case <-b.done:
			if b.err != nil {
				pin.Release()
				return nil, b.err
			}
		}
	}

	return pin, nil
}

func (c *Cache) fetch(ctx context.Context, gen uint64, ids []int, b *batch) {
	chunks, err := c.fetcher.FetchChunks(ctx, ids)
	c.metrics.IncChunkFetches(err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(b.done)

	for _, id := range ids {
		if c.inflight[id] == b {
			delete(c.inflight, id)
		}
	}

	if err != nil {
		b.err = &domain.StorageError{Operation: "load_chunks", Key: fmt.Sprint(ids), Err: err}
		c.logger.Error("chunk fetch failed", "chunks", ids, "error", err)
		return
	}
	if gen != c.gen {
		// The cache was reset while the fetch was running.
		return
	}

	var absent []int
	for _, id := range ids {
		features, ok := chunks[id]
		if !ok {
			absent = append(absent, id)
			continue
		}
		c.insert(id, features)
	}

	if len(absent) > 0 {
		c.stats.Missing += uint64(len(absent))
		c.metrics.IncMissingChunks(len(absent))
		c.logger.Warn("chunks missing from store", "chunks", absent)
	}

	c.evict()
}

func (c *Cache) insert(id int, features []domain.Feature) {
	if el, ok := c.entries[id]; ok {
		el.Value.(*entry).features = features
		c.touch(el)
		return
	}

	c.clock++
	e := &entry{
		id:         id,
		start:      c.boundaries[id].Start,
		features:   features,
		lastAccess: c.clock,
		loadedAt:   time.Now(),
	}
	c.entries[id] = c.lru.PushFront(e)
	c.stats.Loads++
}

func (c *Cache) touch(el *list.Element) {
	c.clock++
	el.Value.(*entry).lastAccess = c.clock
	c.lru.MoveToFront(el)
}

// evict drops least recently used, unpinned chunks until the cache is
// within capacity. Pinned chunks are skipped, so residency may exceed the
// capacity while a query needs more chunks than fit.
func (c *Cache) evict() {
	evicted := 0
	el := c.lru.Back()
	for c.lru.Len() > c.capacity && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if c.pins[e.id] == 0 {
			c.lru.Remove(el)
			delete(c.entries, e.id)
			if c.last == e {
				c.last = nil
			}
			evicted++
		}
		el = prev
	}

	if evicted > 0 {
		c.stats.Evictions += uint64(evicted)
		c.metrics.IncCacheEvictions(evicted)
	}
	c.metrics.SetChunksResident(c.lru.Len())
}

// Get returns the feature at globalIndex if its chunk is resident. A global
// index outside the dataset panics.
func (c *Cache) Get(globalIndex int) (domain.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.last
	if e == nil || globalIndex < e.start || globalIndex >= e.start+len(e.features) {
		el, ok := c.entries[c.lookup.ChunkOf(globalIndex)]
		if !ok {
			return domain.Feature{}, false
		}
		e = el.Value.(*entry)
		c.last = e
	}
	c.touch(c.entries[e.id])

	local := globalIndex - e.start
	if local >= len(e.features) {
		return domain.Feature{}, false
	}
	return e.features[local], true
}

// Prefetch loads ids in the background without pinning them beyond the
// load. At most capacity ids are requested. Failures are logged only.
func (c *Cache) Prefetch(ctx context.Context, ids []int) {
	ids = uniqueIDs(ids)
	if len(ids) > c.capacity {
		ids = ids[:c.capacity]
	}
	if len(ids) == 0 {
		return
	}

	c.prefetches.Add(1)
	go func() {
		defer c.prefetches.Done()

		pin, err := c.load(context.WithoutCancel(ctx), ids, false)
		if err != nil {
			c.logger.Warn("prefetch failed", "chunks", ids, "error", err)
			return
		}
		pin.Release()
	}()
}

// WaitPrefetch blocks until all scheduled prefetches have finished.
func (c *Cache) WaitPrefetch() {
	c.prefetches.Wait()
}

// Resident returns the resident chunk ids, most recently used first.
func (c *Cache) Resident() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*entry).id)
	}
	return ids
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Resident = c.lru.Len()
	s.Capacity = c.capacity
	s.Pinned = len(c.pins)
	s.ChunkCount = len(c.boundaries)
	return s
}

// Reset drops every resident chunk. Fetches still running are discarded
// when they complete, and later loads of their ids issue a fresh fetch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.lru.Init()
	c.entries = make(map[int]*list.Element)
	c.inflight = make(map[int]*batch)
	c.last = nil
	c.metrics.SetChunksResident(0)
}

// Pin holds chunks resident for the duration of one query.
type Pin struct {
	cache *Cache
	ids   []int
	once  sync.Once
}

// IDs returns the pinned chunk ids.
func (p *Pin) IDs() []int {
	return p.ids
}

// Release unpins the chunks and trims the cache back to capacity. It is
// safe to call more than once.
func (p *Pin) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		c := p.cache
		c.mu.Lock()
		defer c.mu.Unlock()

		for _, id := range p.ids {
			if n := c.pins[id] - 1; n > 0 {
				c.pins[id] = n
			} else {
				delete(c.pins, id)
			}
		}
		c.evict()
	})
}

func uniqueIDs(ids []int) []int {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func dedupBatches(batches []*batch) []*batch {
	out := batches[:0]
	seen := make(map[*batch]struct{}, len(batches))
	for _, b := range batches {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
