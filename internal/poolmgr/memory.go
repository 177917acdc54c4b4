package poolmgr

import (
	"context"
	"hash/crc32"
	"sort"
	"strconv"
	"sync"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/region"
)

func init() {
	Register("memory", func(cfg map[string]string) (PoolManager, error) {
		arenaBytes := 64 << 20
		if v := cfg["arena_bytes"]; v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				arenaBytes = n
			}
		}
		return NewMemory(arenaBytes), nil
	})
}

type memRecord struct {
	slot    region.Slot
	objSize int
	length  int
}

type memPool struct {
	path          string
	size          uint64
	flags         domain.Flags
	expectedCount uint64
	records       map[string]*memRecord
}

// Memory is the in-process, region-map-backed PoolManager (spec §4.2's
// "in-memory" backend).
type Memory struct {
	mu     sync.Mutex
	rmap   *region.RegionMap
	pools  map[domain.PoolID]*memPool
	nextID uint64
}

// NewMemory constructs an in-memory pool manager with a single arena of
// arenaBytes registered to NUMA zone 0.
func NewMemory(arenaBytes int) *Memory {
	rmap := region.NewRegionMap()
	rmap.AddArena(make([]byte, arenaBytes))
	return &Memory{rmap: rmap, pools: make(map[domain.PoolID]*memPool)}
}

func (m *Memory) CreateCheck(size uint64) error {
	if size == 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (m *Memory) CloseCheck(path string) error { return nil }

func (m *Memory) Create(ctx context.Context, path string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error) {
	if err := m.CreateCheck(size); err != nil {
		return domain.PoolError, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		if p.path == path {
			if flags&domain.FlagCreateExclusive != 0 {
				return domain.PoolError, domain.ErrPoolFail
			}
			return id, nil
		}
	}
	m.nextID++
	id := domain.PoolID(m.nextID)
	m.pools[id] = &memPool{path: path, size: size, flags: flags, expectedCount: expectedCount, records: make(map[string]*memRecord)}
	return id, nil
}

func (m *Memory) Open(ctx context.Context, path string, flags domain.Flags) (domain.PoolID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		if p.path == path {
			return id, nil
		}
	}
	return domain.PoolError, domain.ErrPoolNotFound
}

func (m *Memory) Close(ctx context.Context, id domain.PoolID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[id]; !ok {
		return domain.ErrPoolNotFound
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		if p.path == path {
			for _, rec := range p.records {
				m.rmap.Free(rec.slot, 0, rec.objSize)
			}
			delete(m.pools, id)
			return nil
		}
	}
	return domain.ErrPoolNotFound
}

func (m *Memory) Regions(ctx context.Context, id domain.PoolID) ([]domain.IOVec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	out := make([]domain.IOVec, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, domain.IOVec{Base: m.rmap.Bytes(rec.slot, rec.objSize), Len: uint64(rec.length)})
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, id domain.PoolID, key, value []byte, flags domain.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	k := string(key)
	if existing, exists := p.records[k]; exists {
		if flags&domain.FlagReplace == 0 {
			return domain.ErrKeyExists
		}
		m.rmap.Free(existing.slot, 0, existing.objSize)
		delete(p.records, k)
	}
	slot, err := m.rmap.Allocate(len(value), 0)
	if err != nil {
		return domain.ErrPoolFail
	}
	objSize := len(m.rmap.Bytes(slot, len(value)))
	dst := m.rmap.Bytes(slot, objSize)
	copy(dst, value)
	p.records[k] = &memRecord{slot: slot, objSize: objSize, length: len(value)}
	return nil
}

func (m *Memory) Get(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	rec, ok := p.records[string(key)]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := make([]byte, rec.length)
	copy(out, m.rmap.Bytes(rec.slot, rec.objSize)[:rec.length])
	return out, nil
}

func (m *Memory) Erase(ctx context.Context, id domain.PoolID, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	k := string(key)
	rec, ok := p.records[k]
	if !ok {
		return domain.ErrKeyNotFound
	}
	m.rmap.Free(rec.slot, 0, rec.objSize)
	delete(p.records, k)
	return nil
}

func (m *Memory) Count(ctx context.Context, id domain.PoolID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return 0, domain.ErrPoolNotFound
	}
	return uint64(len(p.records)), nil
}

func (m *Memory) CRC32(ctx context.Context, id domain.PoolID) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return 0, domain.ErrPoolNotFound
	}
	keys := make([]string, 0, len(p.records))
	for k := range p.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := crc32.NewIEEE()
	for _, k := range keys {
		rec := p.records[k]
		h.Write(m.rmap.Bytes(rec.slot, rec.objSize)[:rec.length])
	}
	return h.Sum32(), nil
}

func (m *Memory) FindKey(ctx context.Context, id domain.PoolID, offset uint64) ([]byte, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, 0, domain.ErrPoolNotFound
	}
	keys := make([]string, 0, len(p.records))
	for k := range p.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if offset >= uint64(len(keys)) {
		return nil, offset, domain.ErrKeyNotFound
	}
	return []byte(keys[offset]), offset + 1, nil
}
