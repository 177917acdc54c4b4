// Package poolmgr defines the PoolManager contract (spec §4.2) and its
// backends: in-memory (region-map backed), persistent devdax-style
// (mmap'd file), hash-indexed (Postgres, standing in for hstore), and a
// supplemental Redis-backed backend.
package poolmgr

import (
	"context"

	"github.com/oriys/fabrickv/internal/domain"
)

// PoolManager is the polymorphic backend contract every pool storage
// implementation satisfies. Concrete backends are selected at daemon
// startup by name via the registry, not by runtime type assertions.
type PoolManager interface {
	// Create makes a new pool at path with the given size and flags.
	// expectedCount is a sizing hint, not an enforced ceiling.
	Create(ctx context.Context, path string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error)
	// Open returns a handle to an existing pool, validating its on-disk
	// invariants where the backend has any (persistent/hash-indexed).
	Open(ctx context.Context, path string, flags domain.Flags) (domain.PoolID, error)
	// Close releases a handle. Closing an unknown id is a programming
	// error (ErrPoolNotFound), not a silent no-op.
	Close(ctx context.Context, id domain.PoolID) error
	// Delete removes a pool's backing storage outright. Idempotent in
	// observable effect: deleting a pool that never existed returns
	// ErrPoolNotFound rather than a generic failure.
	Delete(ctx context.Context, path string) error
	// Regions returns the pool's exact, currently-live backing memory as
	// IOVec spans, suitable for remote zero-copy exposure by a server.
	Regions(ctx context.Context, id domain.PoolID) ([]domain.IOVec, error)

	// CreateCheck validates a requested size against this backend's
	// limits before any storage is touched.
	CreateCheck(size uint64) error
	// CloseCheck validates that path can be safely closed/reopened.
	CloseCheck(path string) error

	// Put stores key/value under id, failing with ErrKeyExists when key
	// already exists and FlagReplace is not set.
	Put(ctx context.Context, id domain.PoolID, key, value []byte, flags domain.Flags) error
	// Get retrieves the value stored for key, or ErrKeyNotFound.
	Get(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error)
	// Erase removes key, or ErrKeyNotFound if absent.
	Erase(ctx context.Context, id domain.PoolID, key []byte) error
	// Count returns the number of live keys in id.
	Count(ctx context.Context, id domain.PoolID) (uint64, error)
	// CRC32 returns a checksum over every live value in id, used to
	// answer an AttrCRC32 attribute query.
	CRC32(ctx context.Context, id domain.PoolID) (uint32, error)
	// FindKey returns the first live key lexically at or after a resume
	// offset, for paging through a pool's keyspace.
	FindKey(ctx context.Context, id domain.PoolID, offset uint64) (key []byte, nextOffset uint64, err error)
}

// Factory constructs a PoolManager from a backend-specific configuration
// blob (see internal/config). Backends register one under their name in
// init().
type Factory func(cfg map[string]string) (PoolManager, error)
