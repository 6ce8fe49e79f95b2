// Package db defines the storage contracts for the Redis/Valkey side store:
// the post vector index, the embedding cache and the budget counters.
package db

import (
	"context"
	"time"
)

// Store is the Redis/Valkey facade. Consumers declare the narrow subset
// they need instead of depending on it directly.
type Store interface {
	Pinger
	HashWriter
	KVStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashSetItem is one key and its fields for a pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashWriter writes the hashes an FT index covers.
type HashWriter interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []HashSetItem) error
	Del(ctx context.Context, keys ...string) error
}

// KVStore holds cache entries and counters.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrByWithTTL adds val to the counter and returns the new value.
	// The TTL is only set when the key has none yet.
	IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// IndexManager creates FT indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher runs KNN and count queries over an FT index.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}
