// Package storage defines the storage-agnostic backend the checkpoint
// store is built on, the same split this codebase uses for its Redis
// execution store: a narrow key/value-plus-sorted-index interface that
// a filesystem, Redis, or any other durable store can satisfy.
package storage

import "context"

// Provider is the minimal durability contract the checkpoint store
// needs. Implementations must make a Set visible to a subsequent Get
// before Set returns (write-then-continue, per the engine's ordering
// guarantees).
type Provider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// AddToIndex records key under indexName with the given score
	// (typically a Unix timestamp or sequence number), enabling
	// ListByScoreDesc to return keys in recency order without a scan.
	AddToIndex(ctx context.Context, indexName string, key string, score float64) error
	ListByScoreDesc(ctx context.Context, indexName string, limit int) ([]string, error)
	RemoveFromIndex(ctx context.Context, indexName string, key string) error

	// ListPrefix returns every key beginning with prefix, in the form Get
	// accepts. CheckpointStore does not call it: it lists a session's
	// artifacts through the session's stage index.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}
