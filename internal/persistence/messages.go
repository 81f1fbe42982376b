package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// Request is a message to the actor. The set of requests is closed: every
// request type carries its own handler.
type Request interface {
	// Op names the operation for logs and metrics.
	Op() string
	handle(ctx context.Context, a *Actor) (Response, error)
}

// Response is the reply to a Request.
type Response interface {
	isResponse()
}

// envelope carries a request with its correlation id.
type envelope struct {
	id  uuid.UUID
	req Request
}

// reply carries a response or an error for the request with the same id.
type reply struct {
	id   uuid.UUID
	resp Response
	err  error
}

// InitializeRequest prepares the store.
type InitializeRequest struct{}

// InitializeResponse reports whether a completed save is present.
type InitializeResponse struct {
	HasIndex bool
}

// InitSaveRequest starts a save: stale chunk records are removed and the
// index record is written.
type InitSaveRequest struct {
	Index *domain.IndexRecord
}

// InitSaveResponse identifies the save for the following requests.
type InitSaveResponse struct {
	SaveID  string
	Cleared int // Stale chunk records removed
}

// SaveChunksRequest writes one batch of chunk records in one transaction.
type SaveChunksRequest struct {
	SaveID string
	Chunks []domain.ChunkRecord
}

// SaveChunksResponse reports save progress.
type SaveChunksResponse struct {
	Written int   // Chunks written so far
	Total   int   // Chunks expected
	Bytes   int64 // Encoded bytes written so far
}

// FinalizeSaveRequest completes a save by writing the manifest.
type FinalizeSaveRequest struct {
	SaveID string
}

// FinalizeSaveResponse reports the saved chunk count.
type FinalizeSaveResponse struct {
	ChunkCount int
	Bytes      int64
}

// AbortSaveRequest abandons a save and returns the actor to idle.
type AbortSaveRequest struct {
	SaveID string
}

// AbortSaveResponse acknowledges an abort.
type AbortSaveResponse struct{}

// RestoreRequest reads the index record without chunk payloads.
type RestoreRequest struct{}

// RestoreResponse holds the restored index. Found is false when no
// completed save exists.
type RestoreResponse struct {
	Found      bool
	Index      *domain.IndexRecord
	ChunkCount int
}

// LoadChunksRequest reads the payloads of the requested chunks only.
type LoadChunksRequest struct {
	IDs []int
}

// LoadChunksResponse holds the loaded chunks keyed by id. Ids absent from
// the store are listed in Missing.
type LoadChunksResponse struct {
	Chunks  map[int][]domain.Feature
	Missing []int
}

// ClearRequest removes the index, the manifest and every chunk record.
type ClearRequest struct{}

// ClearResponse reports how many records were removed.
type ClearResponse struct {
	Removed int
}

// Op implements Request.
func (InitializeRequest) Op() string { return "initialize" }

// Op implements Request.
func (InitSaveRequest) Op() string { return "init_save" }

// Op implements Request.
func (SaveChunksRequest) Op() string { return "save_chunks" }

// Op implements Request.
func (FinalizeSaveRequest) Op() string { return "finalize_save" }

// Op implements Request.
func (AbortSaveRequest) Op() string { return "abort_save" }

// Op implements Request.
func (RestoreRequest) Op() string { return "restore" }

// Op implements Request.
func (LoadChunksRequest) Op() string { return "load_chunks" }

// Op implements Request.
func (ClearRequest) Op() string { return "clear" }

func (InitializeResponse) isResponse()   {}
func (InitSaveResponse) isResponse()     {}
func (SaveChunksResponse) isResponse()   {}
func (FinalizeSaveResponse) isResponse() {}
func (AbortSaveResponse) isResponse()    {}
func (RestoreResponse) isResponse()      {}
func (LoadChunksResponse) isResponse()   {}
func (ClearResponse) isResponse()        {}
