package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string // Key prefix, e.g. "bradar:"
}

// Redis implements output.KVStore on a Redis database. Transactions use
// MULTI/EXEC pipelines.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis creates a Redis-backed store.
func NewRedis(cfg RedisConfig) *Redis {
	ns := cfg.Namespace
	if ns == "" {
		ns = "bradar:"
	}
	return &Redis{
		client:    redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		namespace: ns,
	}
}

// Init checks connectivity.
func (r *Redis) Init(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", errors.Join(domain.ErrStorageUnavailable, err))
	}
	return nil
}

// Get implements output.KVStore.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRecordNotFound
	}
	return v, err
}

// Keys implements output.KVStore.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.namespace+prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Update implements output.KVStore.
func (r *Redis) Update(ctx context.Context, fn func(tx output.KVTx) error) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisTx{ctx: ctx, pipe: pipe, namespace: r.namespace})
	})
	return err
}

// Close implements output.KVStore.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisTx struct {
	ctx       context.Context
	pipe      redis.Pipeliner
	namespace string
}

func (t *redisTx) Put(key string, value []byte) error {
	t.pipe.Set(t.ctx, t.namespace+key, value, 0)
	return nil
}

func (t *redisTx) Delete(key string) error {
	t.pipe.Del(t.ctx, t.namespace+key)
	return nil
}

var _ output.KVStore = (*Redis)(nil)
