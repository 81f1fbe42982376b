package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// Memory is an ephemeral output.KVStore. Data does not survive the process.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Init implements output.KVStore.
func (m *Memory) Init(_ context.Context) error {
	return nil
}

// Get implements output.KVStore.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return append([]byte(nil), v...), nil
}

// Keys implements output.KVStore.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update implements output.KVStore. Writes are staged and applied only if
// fn succeeds.
func (m *Memory) Update(_ context.Context, fn func(tx output.KVTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{ops: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.ops {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}
	return nil
}

// Close implements output.KVStore.
func (m *Memory) Close() error {
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Snapshot returns a copy of every record.
func (m *Memory) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type memoryTx struct {
	ops map[string][]byte // nil value marks a delete
}

func (t *memoryTx) Put(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	t.ops[key] = v
	return nil
}

func (t *memoryTx) Delete(key string) error {
	t.ops[key] = nil
	return nil
}

var _ output.KVStore = (*Memory)(nil)
