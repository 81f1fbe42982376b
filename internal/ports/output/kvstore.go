package output

import "context"

// KVStore defines the secondary port for the durable key-value store owned
// by the persistence actor.
type KVStore interface {
	// Init prepares the store (schema, connectivity) and is safe to repeat.
	Init(ctx context.Context) error

	// Get returns the value stored under key or domain.ErrRecordNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Update runs fn inside a single transaction. Either every write made
	// through tx is applied or none is.
	Update(ctx context.Context, fn func(tx KVTx) error) error

	// Close releases the store.
	Close() error
}

// KVTx is the write side of a KVStore transaction.
type KVTx interface {
	Put(key string, value []byte) error
	Delete(key string) error
}
