package interfaces

import "context"

// BlobStore is a string-keyed blob store with get/set/delete semantics and
// a per-key version stamp for optimistic concurrency.
//
// Versions only ever grow for a key: Delete leaves a tombstone that bumps the
// version, so a writer holding a stamp from before a delete can never
// compare-and-set over the data written after it.
type BlobStore interface {
	// Get returns the value and its version. A missing or deleted key yields
	// ErrBlobNotFound together with the key's current version (0 if the key
	// was never written).
	Get(ctx context.Context, key string) ([]byte, int64, error)

	// Set writes value unconditionally and returns the new version.
	Set(ctx context.Context, key string, value []byte) (int64, error)

	// CompareAndSet writes value only if the key is still at expected and
	// returns the new version, or ErrVersionConflict.
	CompareAndSet(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	// Delete removes the value for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every value whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
