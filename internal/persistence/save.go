package persistence

import (
	"context"
	"iter"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// DefaultBatchSize is the number of chunks written per transaction.
const DefaultBatchSize = 4

// EventKind identifies a persist progress event.
type EventKind int

// Persist progress events.
const (
	EventStarted EventKind = iota
	EventIndexWritten
	EventBatchWritten
	EventFinalized
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventIndexWritten:
		return "index_written"
	case EventBatchWritten:
		return "batch_written"
	case EventFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// PersistEvent reports save progress.
type PersistEvent struct {
	Kind    EventKind
	SaveID  string
	Written int   // Chunks written so far
	Total   int   // Chunks to write
	Bytes   int64 // Encoded bytes written so far
}

// ChunkSource returns the record of chunk id.
type ChunkSource func(id int) domain.ChunkRecord

// Save streams a complete dataset to the actor. The returned sequence
// yields one event per step; on failure it yields the error and ends.
// Stopping the iteration early aborts the save, leaving no manifest, so a
// later restore treats the store as empty.
func (c *Client) Save(ctx context.Context, index *domain.IndexRecord, chunks ChunkSource, batchSize int) iter.Seq2[PersistEvent, error] {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	return func(yield func(PersistEvent, error) bool) {
		total := index.ChunkCount()
		if !yield(PersistEvent{Kind: EventStarted, Total: total}, nil) {
			return
		}

		init, err := c.InitSave(ctx, index)
		if err != nil {
			yield(PersistEvent{}, err)
			return
		}
		saveID := init.SaveID

		abort := func() {
			if err := c.AbortSave(context.WithoutCancel(ctx), saveID); err != nil {
				c.logger.Warn("failed to abort save", "save_id", saveID, "error", err)
			}
		}

		if !yield(PersistEvent{Kind: EventIndexWritten, SaveID: saveID, Total: total}, nil) {
			abort()
			return
		}

		batch := make([]domain.ChunkRecord, 0, batchSize)
		for start := 0; start < total; start += batchSize {
			batch = batch[:0]
			for id := start; id < min(start+batchSize, total); id++ {
				batch = append(batch, chunks(id))
			}

			resp, err := c.SaveChunks(ctx, saveID, batch)
			if err != nil {
				abort()
				yield(PersistEvent{}, err)
				return
			}

			ev := PersistEvent{
				Kind:    EventBatchWritten,
				SaveID:  saveID,
				Written: resp.Written,
				Total:   resp.Total,
				Bytes:   resp.Bytes,
			}
			if !yield(ev, nil) {
				abort()
				return
			}
		}

		fin, err := c.FinalizeSave(ctx, saveID)
		if err != nil {
			yield(PersistEvent{}, err)
			return
		}

		yield(PersistEvent{
			Kind:    EventFinalized,
			SaveID:  saveID,
			Written: fin.ChunkCount,
			Total:   total,
			Bytes:   fin.Bytes,
		}, nil)
	}
}

// Drain consumes a save sequence and returns the first error.
func Drain(seq iter.Seq2[PersistEvent, error]) error {
	for _, err := range seq {
		if err != nil {
			return err
		}
	}
	return nil
}
