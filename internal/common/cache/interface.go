package cache

import (
	"context"
	"time"
)

// Cache defines the subset of key-value operations the judge relies on.
// Implementations must map a missing key to ("", nil) rather than an error.
type Cache interface {
	BasicOps
	HashOps
	ListOps
	LockOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	HSet(ctx context.Context, key, field string, value any) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HMSet(ctx context.Context, key string, fields map[string]any) error
}

// ListOps defines list operations used as a FIFO queue
type ListOps interface {
	RPush(ctx context.Context, key string, values ...any) error

	// BLPop blocks up to timeout for the head of the first non-empty list.
	// ok is false when the timeout elapsed without an element.
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, ok bool, err error)

	LLen(ctx context.Context, key string) (int64, error)
}

// LockOps defines token-guarded distributed lock operations
type LockOps interface {
	// TryLock acquires key with the given owner token if it is free
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases key only if it is still held by token
	Unlock(ctx context.Context, key, token string) error
}

// PipelineOps runs several writes as one MULTI/EXEC transaction
type PipelineOps interface {
	TxPipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands for a transaction
type Pipeliner interface {
	HMSet(key string, fields map[string]any)
	Expire(key string, ttl time.Duration)
	RPush(key string, values ...any)
	Del(keys ...string)
}
