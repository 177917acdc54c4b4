// Package domain holds the wire-agnostic types shared by the pool manager,
// protocol engine, and region allocator: pool identifiers, memory handles,
// operation flags, and attribute kinds.
package domain

// PoolID identifies an open pool on the wire. Zero is never a valid id
// returned from a successful create/open.
type PoolID uint64

// PoolError is the sentinel pool id returned on a failed create/open.
const PoolError PoolID = ^PoolID(0)

// MemoryHandle identifies a registered memory region owned by a caller
// (used by PutDirect/GetDirect for caller-provided buffers).
type MemoryHandle uint64

// HandleNone marks the absence of a memory handle.
const HandleNone MemoryHandle = ^MemoryHandle(0)

// Flags carries pool and IO operation modifiers.
type Flags uint32

const (
	// FlagCreate requests pool creation, creating if absent.
	FlagCreate Flags = 1 << iota
	// FlagCreateExclusive fails if the pool already exists.
	FlagCreateExclusive
	// FlagReadOnly is passed through on pool open; no backend refuses
	// writes because of it.
	FlagReadOnly
	// FlagReplace allows Put to overwrite an existing key.
	FlagReplace
)

// Attribute identifies a queryable pool or pool-wide property, per
// Message_INFO_request's `type` field.
type Attribute uint32

const (
	AttrCount Attribute = iota + 1
	AttrCRC32
	AttrAutoHashtableExpansion
	AttrPercentUsed
	AttrMemoryType
	AttrWriteEpochTime
	AttrValueLen
	// AttrFindKey is not a pool attribute query; it carries a key
	// expression and returns the next matching key plus its offset.
	AttrFindKey
)

// IOVec describes one contiguous span of a pool's backing memory, as
// returned by PoolManager.Regions for zero-copy exposure to a remote peer.
type IOVec struct {
	Base []byte
	Len  uint64
}

// Record is a single key-value pair as seen by the server-side index.
type Record struct {
	Key   []byte
	Value []byte
}
