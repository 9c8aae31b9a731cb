// Package store defines the pluggable atomic key-value storage abstraction
// used by the DID registry, and its concrete backends (in-memory, bbolt,
// Redis, DynamoDB, Postgres).
//
// Exactly one backend is active per process, selected at startup. All
// multi-key state transitions go through PutBatch, which must apply every
// write and delete as a single atomic commit or fail without partial effect.
package store

import "context"

// KV is one key-value pair.
type KV struct {
	Key   string
	Value []byte
}

// Store is the capability interface every backend implements.
//
// Get returns common.ErrorNotFound (wrapped) when the key does not exist.
// ScanPrefix returns pairs in the backend's key order, stable within a call.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)

	// PutBatch atomically applies all puts and deletes.
	PutBatch(ctx context.Context, puts []KV, deletes []string) error

	Close() error
}

// Put writes a single key through the atomic batch path.
func Put(ctx context.Context, s Store, key string, value []byte) error {
	return s.PutBatch(ctx, []KV{{Key: key, Value: value}}, nil)
}

// Delete removes a single key through the atomic batch path.
func Delete(ctx context.Context, s Store, key string) error {
	return s.PutBatch(ctx, nil, []string{key})
}
