// Package persistence runs the actor that owns the durable chunk store.
// Callers reach it only through a Client; every request is answered by a
// response or an error carrying the same correlation id.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// State is the save state of the actor.
type State int

// Save states.
const (
	StateIdle State = iota
	StateInitializing
	StateStreaming
	StateFinalizing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type saveState struct {
	id       string
	total    int
	features int
	written  int
	bytes    int64
	started  time.Time
}

// Actor owns the KV store. Its fields are only touched by the Run goroutine.
type Actor struct {
	store   output.KVStore
	codec   *Codec
	metrics output.MetricsCollector
	logger  *slog.Logger

	requests  chan envelope
	responses chan reply
	done      chan struct{}

	state State
	save  *saveState
}

// NewActor creates an actor around store. It does nothing until Run.
func NewActor(store output.KVStore, codec *Codec, metrics output.MetricsCollector, logger *slog.Logger) *Actor {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Actor{
		store:     store,
		codec:     codec,
		metrics:   metrics,
		logger:    logger.With("component", "persistence"),
		requests:  make(chan envelope),
		responses: make(chan reply),
		done:      make(chan struct{}),
	}
}

// Run processes requests in arrival order until ctx is canceled.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	a.logger.Debug("persistence actor started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("persistence actor stopped")
			return
		case env := <-a.requests:
			resp, err := a.dispatch(ctx, env.req)
			select {
			case a.responses <- reply{id: env.id, resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Done is closed once Run has returned.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) dispatch(ctx context.Context, req Request) (resp Response, err error) {
	start := time.Now()
	op := req.Op()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("persistence handler panicked", "op", op, "panic", r)
			a.resetSave()
			resp, err = nil, fmt.Errorf("%s panicked: %v: %w", op, r, domain.ErrInternal)
		}
		a.metrics.IncStorageOperations(op, err == nil)
		a.metrics.ObserveStorageDuration(op, time.Since(start))
	}()

	return req.handle(ctx, a)
}

func (a *Actor) resetSave() {
	a.state = StateIdle
	a.save = nil
}

func (a *Actor) checkSave(saveID string) error {
	if a.state != StateStreaming || a.save == nil || a.save.id != saveID {
		return fmt.Errorf("save %s in state %s: %w", saveID, a.state, domain.ErrSaveNotInProgress)
	}
	return nil
}

func (InitializeRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	if err := a.store.Init(ctx); err != nil {
		return nil, &domain.StorageError{Operation: "initialize", Err: err}
	}

	_, err := a.store.Get(ctx, ManifestKey)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		return InitializeResponse{}, nil
	case err != nil:
		return nil, &domain.StorageError{Operation: "initialize", Key: ManifestKey, Err: err}
	}
	return InitializeResponse{HasIndex: true}, nil
}

func (r InitSaveRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	if r.Index == nil {
		return nil, fmt.Errorf("init save without index: %w", domain.ErrInvalidInput)
	}
	if a.save != nil {
		a.logger.Warn("abandoning unfinished save", "save_id", a.save.id, "state", a.state)
	}
	a.state = StateInitializing

	data, err := a.codec.EncodeIndex(r.Index)
	if err != nil {
		a.resetSave()
		return nil, err
	}

	stale, err := a.store.Keys(ctx, ChunkPrefix)
	if err != nil {
		a.resetSave()
		return nil, &domain.StorageError{Operation: "init_save", Key: ChunkPrefix, Err: err}
	}

	err = a.store.Update(ctx, func(tx output.KVTx) error {
		if err := tx.Delete(ManifestKey); err != nil {
			return err
		}
		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Put(IndexKey, data)
	})
	if err != nil {
		a.resetSave()
		return nil, &domain.StorageError{Operation: "init_save", Key: IndexKey, Err: err}
	}

	a.save = &saveState{
		id:       uuid.NewString(),
		total:    r.Index.ChunkCount(),
		features: r.Index.FeatureCount,
		bytes:    int64(len(data)),
		started:  time.Now(),
	}
	a.state = StateStreaming

	a.logger.Info("save started",
		"save_id", a.save.id,
		"chunks", a.save.total,
		"stale_removed", len(stale),
		"index_size", humanize.Bytes(uint64(len(data))),
	)

	return InitSaveResponse{SaveID: a.save.id, Cleared: len(stale)}, nil
}

func (r SaveChunksRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	if err := a.checkSave(r.SaveID); err != nil {
		return nil, err
	}

	encoded := make(map[string][]byte, len(r.Chunks))
	var size int64
	for i := range r.Chunks {
		rec := &r.Chunks[i]
		if rec.ChunkID < 0 || rec.ChunkID >= a.save.total {
			return nil, fmt.Errorf("chunk %d outside [0, %d): %w", rec.ChunkID, a.save.total, domain.ErrInvalidInput)
		}
		data, err := a.codec.EncodeChunk(rec)
		if err != nil {
			return nil, err
		}
		encoded[ChunkKey(rec.ChunkID)] = data
		size += int64(len(data))
	}

	err := a.store.Update(ctx, func(tx output.KVTx) error {
		for key, data := range encoded {
			if err := tx.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "save_chunks", Err: err}
	}

	a.save.written += len(encoded)
	a.save.bytes += size

	a.logger.Debug("chunk batch written",
		"save_id", a.save.id,
		"written", a.save.written,
		"total", a.save.total,
		"batch_size", humanize.Bytes(uint64(size)),
	)

	return SaveChunksResponse{Written: a.save.written, Total: a.save.total, Bytes: a.save.bytes}, nil
}

func (r FinalizeSaveRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	if err := a.checkSave(r.SaveID); err != nil {
		return nil, err
	}
	a.state = StateFinalizing
	save := a.save
	defer a.resetSave()

	if save.written != save.total {
		return nil, fmt.Errorf("save %s wrote %d of %d chunks: %w", save.id, save.written, save.total, domain.ErrInvalidInput)
	}

	data, err := a.codec.EncodeManifest(&Manifest{
		ChunkCount:   save.total,
		FeatureCount: save.features,
		SaveID:       save.id,
	})
	if err != nil {
		return nil, err
	}

	err = a.store.Update(ctx, func(tx output.KVTx) error {
		return tx.Put(ManifestKey, data)
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "finalize_save", Key: ManifestKey, Err: err}
	}

	a.logger.Info("save finalized",
		"save_id", save.id,
		"chunks", save.total,
		"features", humanize.Comma(int64(save.features)),
		"size", humanize.Bytes(uint64(save.bytes)),
		"duration", time.Since(save.started).Round(time.Millisecond),
	)

	return FinalizeSaveResponse{ChunkCount: save.total, Bytes: save.bytes}, nil
}

func (r AbortSaveRequest) handle(_ context.Context, a *Actor) (Response, error) {
	if a.save != nil && a.save.id == r.SaveID {
		a.logger.Warn("save aborted", "save_id", r.SaveID, "written", a.save.written, "total", a.save.total)
		a.resetSave()
	}
	return AbortSaveResponse{}, nil
}

func (RestoreRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	data, err := a.store.Get(ctx, ManifestKey)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		return RestoreResponse{}, nil
	case err != nil:
		return nil, &domain.StorageError{Operation: "restore", Key: ManifestKey, Err: err}
	}
	manifest, err := a.codec.DecodeManifest(data)
	if err != nil {
		return nil, err
	}

	data, err = a.store.Get(ctx, IndexKey)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		a.logger.Warn("manifest present without index record")
		return RestoreResponse{}, nil
	case err != nil:
		return nil, &domain.StorageError{Operation: "restore", Key: IndexKey, Err: err}
	}
	index, err := a.codec.DecodeIndex(data)
	if err != nil {
		return nil, err
	}

	if index.ChunkCount() != manifest.ChunkCount {
		a.logger.Warn("index does not match manifest, ignoring saved dataset",
			"index_chunks", index.ChunkCount(),
			"manifest_chunks", manifest.ChunkCount,
		)
		return RestoreResponse{}, nil
	}

	return RestoreResponse{Found: true, Index: index, ChunkCount: manifest.ChunkCount}, nil
}

func (r LoadChunksRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	resp := LoadChunksResponse{Chunks: make(map[int][]domain.Feature, len(r.IDs))}

	for _, id := range r.IDs {
		if _, ok := resp.Chunks[id]; ok {
			continue
		}
		key := ChunkKey(id)
		data, err := a.store.Get(ctx, key)
		if errors.Is(err, domain.ErrRecordNotFound) {
			resp.Missing = append(resp.Missing, id)
			continue
		}
		if err != nil {
			return nil, &domain.StorageError{Operation: "load_chunks", Key: key, Err: err}
		}

		rec, err := a.codec.DecodeChunk(data)
		if err != nil {
			return nil, &domain.StorageError{Operation: "load_chunks", Key: key, Err: err}
		}
		if rec.ChunkID != id {
			return nil, &domain.StorageError{
				Operation: "load_chunks",
				Key:       key,
				Err:       fmt.Errorf("record holds chunk %d: %w", rec.ChunkID, domain.ErrInternal),
			}
		}
		resp.Chunks[id] = rec.Features
	}

	sort.Ints(resp.Missing)
	return resp, nil
}

func (ClearRequest) handle(ctx context.Context, a *Actor) (Response, error) {
	chunks, err := a.store.Keys(ctx, ChunkPrefix)
	if err != nil {
		return nil, &domain.StorageError{Operation: "clear", Key: ChunkPrefix, Err: err}
	}

	removed := 0
	err = a.store.Update(ctx, func(tx output.KVTx) error {
		for _, key := range append(chunks, IndexKey, ManifestKey) {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		removed = len(chunks)
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "clear", Err: err}
	}

	if a.save != nil {
		a.logger.Warn("clear interrupted a save", "save_id", a.save.id)
	}
	a.resetSave()

	a.logger.Info("store cleared", "chunks_removed", removed)
	return ClearResponse{Removed: removed}, nil
}
