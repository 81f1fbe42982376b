package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// Client sends requests to an Actor and routes responses back to the
// waiting caller by correlation id. Responses may arrive in any order.
type Client struct {
	actor  *Actor
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[uuid.UUID]chan reply
	stopped bool
}

// Start runs the actor and the response router until ctx is canceled.
func Start(ctx context.Context, actor *Actor) *Client {
	c := &Client{
		actor:   actor,
		logger:  actor.logger,
		waiters: make(map[uuid.UUID]chan reply),
	}
	go actor.Run(ctx)
	go c.route()
	return c
}

func (c *Client) route() {
	for {
		select {
		case r := <-c.actor.responses:
			c.mu.Lock()
			ch, ok := c.waiters[r.id]
			delete(c.waiters, r.id)
			c.mu.Unlock()

			if !ok {
				// The caller gave up waiting.
				c.logger.Debug("dropping response without waiter", "id", r.id)
				continue
			}
			ch <- r
		case <-c.actor.Done():
			c.mu.Lock()
			c.stopped = true
			for id, ch := range c.waiters {
				ch <- reply{id: id, err: domain.ErrActorStopped}
				delete(c.waiters, id)
			}
			c.mu.Unlock()
			return
		}
	}
}

// Do sends req and waits for its response. ctx bounds the wait only; the
// actor finishes an operation it has already started.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	id := uuid.New()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, domain.ErrActorStopped
	}
	c.waiters[id] = ch
	c.mu.Unlock()

	select {
	case c.actor.requests <- envelope{id: id, req: req}:
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.actor.Done():
		c.forget(id)
		return nil, domain.ErrActorStopped
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uuid.UUID) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func do[R Response](ctx context.Context, c *Client, req Request) (R, error) {
	var zero R
	resp, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	r, ok := resp.(R)
	if !ok {
		return zero, fmt.Errorf("%s answered with %T: %w", req.Op(), resp, domain.ErrInternal)
	}
	return r, nil
}

// Initialize prepares the store and reports whether a completed save exists.
func (c *Client) Initialize(ctx context.Context) (bool, error) {
	r, err := do[InitializeResponse](ctx, c, InitializeRequest{})
	return r.HasIndex, err
}

// InitSave starts a save and returns its id.
func (c *Client) InitSave(ctx context.Context, index *domain.IndexRecord) (InitSaveResponse, error) {
	return do[InitSaveResponse](ctx, c, InitSaveRequest{Index: index})
}

// SaveChunks writes one batch of chunk records.
func (c *Client) SaveChunks(ctx context.Context, saveID string, chunks []domain.ChunkRecord) (SaveChunksResponse, error) {
	return do[SaveChunksResponse](ctx, c, SaveChunksRequest{SaveID: saveID, Chunks: chunks})
}

// FinalizeSave completes a save.
func (c *Client) FinalizeSave(ctx context.Context, saveID string) (FinalizeSaveResponse, error) {
	return do[FinalizeSaveResponse](ctx, c, FinalizeSaveRequest{SaveID: saveID})
}

// AbortSave abandons a save.
func (c *Client) AbortSave(ctx context.Context, saveID string) error {
	_, err := do[AbortSaveResponse](ctx, c, AbortSaveRequest{SaveID: saveID})
	return err
}

// Restore reads the saved index without chunk payloads.
func (c *Client) Restore(ctx context.Context) (RestoreResponse, error) {
	return do[RestoreResponse](ctx, c, RestoreRequest{})
}

// LoadChunks reads the requested chunks.
func (c *Client) LoadChunks(ctx context.Context, ids []int) (LoadChunksResponse, error) {
	return do[LoadChunksResponse](ctx, c, LoadChunksRequest{IDs: ids})
}

// Clear removes the saved dataset.
func (c *Client) Clear(ctx context.Context) (int, error) {
	r, err := do[ClearResponse](ctx, c, ClearRequest{})
	return r.Removed, err
}

// FetchChunks implements output.ChunkFetcher.
func (c *Client) FetchChunks(ctx context.Context, ids []int) (map[int][]domain.Feature, error) {
	r, err := c.LoadChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	return r.Chunks, nil
}

var _ output.ChunkFetcher = (*Client)(nil)
