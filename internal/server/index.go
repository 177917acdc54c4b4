// Package server implements the responder side of the protocol: dispatch
// of incoming wire messages to a configured poolmgr.PoolManager, which is
// the sole backing store for both pool lifecycle and IO operations. Index
// is not that store — it is a best-effort read cache the Responder keeps
// in front of the pool manager for Get/AttrValueLen lookups, populated on
// a cache miss and invalidated on Put/Erase. Shaped like a per-key
// RWMutex-guarded map with defensive copies on read/write, reworked as a
// per-pool keyspace since a pool is the unit of isolation here.
package server

import (
	"sort"
	"sync"

	"github.com/oriys/fabrickv/internal/domain"
)

type poolEntries struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func newPoolEntries() *poolEntries {
	return &poolEntries{entries: make(map[string][]byte)}
}

// Index is the server's read cache, shared by every Responder it is handed
// to (cmd/fabricd uses one for all connections): one isolated keyspace
// per open pool, created on first use and torn down when the pool closes.
// It never originates data — every entry it holds was last read from, or
// last written through to, the configured poolmgr.PoolManager.
type Index struct {
	mu    sync.RWMutex
	pools map[domain.PoolID]*poolEntries
}

func NewIndex() *Index {
	return &Index{pools: make(map[domain.PoolID]*poolEntries)}
}

func (idx *Index) poolFor(id domain.PoolID, create bool) *poolEntries {
	idx.mu.RLock()
	p, ok := idx.pools[id]
	idx.mu.RUnlock()
	if ok || !create {
		return p
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if p, ok := idx.pools[id]; ok {
		return p
	}
	p = newPoolEntries()
	idx.pools[id] = p
	return p
}

// Drop removes a pool's entire keyspace; the Responder calls it when the
// pool closes.
func (idx *Index) Drop(id domain.PoolID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.pools, id)
}

func (idx *Index) Put(id domain.PoolID, key, value []byte, flags domain.Flags) error {
	p := idx.poolFor(id, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	k := string(key)
	if _, exists := p.entries[k]; exists && flags&domain.FlagReplace == 0 {
		return domain.ErrKeyExists
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	p.entries[k] = cp
	return nil
}

// Fill unconditionally stores value under key, bypassing the FlagReplace
// check Put enforces — used to populate the cache after a read-through
// fetch from the pool manager, where there is no existing-key conflict to
// detect.
func (idx *Index) Fill(id domain.PoolID, key, value []byte) {
	p := idx.poolFor(id, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	p.entries[string(key)] = cp
}

// Invalidate drops a cached entry, if present. A miss is not an error:
// the entry may never have been cached.
func (idx *Index) Invalidate(id domain.PoolID, key []byte) {
	p := idx.poolFor(id, false)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, string(key))
}

func (idx *Index) Get(id domain.PoolID, key []byte) ([]byte, error) {
	p := idx.poolFor(id, false)
	if p == nil {
		return nil, domain.ErrKeyNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.entries[string(key)]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (idx *Index) Erase(id domain.PoolID, key []byte) error {
	p := idx.poolFor(id, false)
	if p == nil {
		return domain.ErrKeyNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[string(key)]; !ok {
		return domain.ErrKeyNotFound
	}
	delete(p.entries, string(key))
	return nil
}

func (idx *Index) Count(id domain.PoolID) uint64 {
	p := idx.poolFor(id, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uint64(len(p.entries))
}

func (idx *Index) FindKey(id domain.PoolID, offset uint64) ([]byte, uint64, error) {
	p := idx.poolFor(id, false)
	if p == nil {
		return nil, offset, domain.ErrKeyNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if offset >= uint64(len(keys)) {
		return nil, offset, domain.ErrKeyNotFound
	}
	return []byte(keys[offset]), offset + 1, nil
}
