package poolmgr

import (
	"context"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/pkg/crypto"
	"github.com/oriys/fabrickv/internal/pkg/fsutil"
	"github.com/oriys/fabrickv/internal/region"
)

func init() {
	Register("persistent", func(cfg map[string]string) (PoolManager, error) {
		return NewPersistent(), nil
	})
}

type persistentPool struct {
	path    string
	file    *os.File
	mapping []byte
	rmap    *region.RegionMap
	flags   domain.Flags
	records map[string]*memRecord
}

// Persistent is a devdax-style PoolManager: each pool is backed by an
// mmap'd, size-fixed regular file standing in for a devdax character
// device, opened with MAP_SHARED so writes are durable across a process
// restart. Object layout inside the mapping reuses the region-map
// allocator, same as the in-memory backend.
type Persistent struct {
	mu     sync.Mutex
	pools  map[domain.PoolID]*persistentPool
	nextID uint64
}

func NewPersistent() *Persistent {
	return &Persistent{pools: make(map[domain.PoolID]*persistentPool)}
}

func (p *Persistent) CreateCheck(size uint64) error {
	if size == 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (p *Persistent) CloseCheck(path string) error { return nil }

func (p *Persistent) Create(ctx context.Context, path string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error) {
	if err := p.CreateCheck(size); err != nil {
		return domain.PoolError, err
	}
	if flags&domain.FlagCreateExclusive != 0 {
		if _, err := os.Stat(path); err == nil {
			return domain.PoolError, domain.ErrPoolFail
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return domain.PoolError, domain.ErrRegionFailGeneral
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return domain.PoolError, domain.ErrRegionFailGeneral
	}
	mapping, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return domain.PoolError, domain.ErrRegionFailAPI
	}
	_ = unix.Madvise(mapping, unix.MADV_WILLNEED)

	rmap := region.NewRegionMap()
	rmap.AddArena(mapping)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := domain.PoolID(p.nextID)
	p.pools[id] = &persistentPool{path: path, file: f, mapping: mapping, rmap: rmap, flags: flags, records: make(map[string]*memRecord)}
	return id, nil
}

func (p *Persistent) Open(ctx context.Context, path string, flags domain.Flags) (domain.PoolID, error) {
	p.mu.Lock()
	for id, pp := range p.pools {
		if pp.path == path {
			p.mu.Unlock()
			return id, nil
		}
	}
	p.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return domain.PoolError, domain.ErrPoolNotFound
	}
	if err := verifyFingerprint(path); err != nil {
		return domain.PoolError, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return domain.PoolError, domain.ErrRegionFailGeneral
	}
	size := info.Size()
	mapping, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return domain.PoolError, domain.ErrRegionFailAPI
	}
	rmap := region.NewRegionMap()
	rmap.AddArena(mapping)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := domain.PoolID(p.nextID)
	// Note: object contents survive in the mapping, but the allocator's
	// free/used bookkeeping does not — a real devdax recovery path would
	// walk a persisted directory and call InjectAllocation per live
	// object here.
	p.pools[id] = &persistentPool{path: path, file: f, mapping: mapping, rmap: rmap, flags: flags, records: make(map[string]*memRecord)}
	return id, nil
}

func (p *Persistent) Close(ctx context.Context, id domain.PoolID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	unix.Msync(pp.mapping, unix.MS_SYNC)
	unix.Munmap(pp.mapping)
	pp.file.Close()
	delete(p.pools, id)
	_ = writeFingerprint(pp.path)
	return nil
}

// sidecarPath derives a filesystem-safe fingerprint file name from a pool's
// backing path, since pool paths are caller-supplied and may contain
// characters unsuitable for a bare suffix.
func sidecarPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+crypto.HashString(path)+".sha256")
}

// writeFingerprint records a content hash of the backing file, taken after
// an orderly Close, so the next Open can detect out-of-band writes to the
// file between process restarts (a devdax character device has no such
// concept, but a regular file standing in for one does).
func writeFingerprint(path string) error {
	sum, err := fsutil.HashFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(path), []byte(sum), 0o600)
}

// verifyFingerprint checks path against a fingerprint from a prior orderly
// Close, if one was recorded. No recorded fingerprint means nothing to
// check (first Open, or Delete removed the sidecar separately).
func verifyFingerprint(path string) error {
	want, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return nil
	}
	got, err := fsutil.HashFile(path)
	if err != nil {
		return domain.ErrRegionFailGeneral
	}
	if string(want) != got {
		return domain.ErrRegionFailGeneral
	}
	return nil
}

func (p *Persistent) Delete(ctx context.Context, path string) error {
	p.mu.Lock()
	for id, pp := range p.pools {
		if pp.path == path {
			unix.Munmap(pp.mapping)
			pp.file.Close()
			delete(p.pools, id)
			break
		}
	}
	p.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrPoolNotFound
		}
		return domain.ErrRegionFailGeneral
	}
	os.Remove(sidecarPath(path))
	return nil
}

func (p *Persistent) Regions(ctx context.Context, id domain.PoolID) ([]domain.IOVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	out := make([]domain.IOVec, 0, len(pp.records))
	for _, rec := range pp.records {
		out = append(out, domain.IOVec{Base: pp.rmap.Bytes(rec.slot, rec.objSize), Len: uint64(rec.length)})
	}
	return out, nil
}

func (p *Persistent) Put(ctx context.Context, id domain.PoolID, key, value []byte, flags domain.Flags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	k := string(key)
	if existing, exists := pp.records[k]; exists {
		if flags&domain.FlagReplace == 0 {
			return domain.ErrKeyExists
		}
		pp.rmap.Free(existing.slot, 0, existing.objSize)
		delete(pp.records, k)
	}
	slot, err := pp.rmap.Allocate(len(value), 0)
	if err != nil {
		return domain.ErrPoolFail
	}
	objSize := len(pp.rmap.Bytes(slot, len(value)))
	dst := pp.rmap.Bytes(slot, objSize)
	copy(dst, value)
	pp.records[k] = &memRecord{slot: slot, objSize: objSize, length: len(value)}
	return nil
}

func (p *Persistent) Get(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	rec, ok := pp.records[string(key)]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := make([]byte, rec.length)
	copy(out, pp.rmap.Bytes(rec.slot, rec.objSize)[:rec.length])
	return out, nil
}

func (p *Persistent) Erase(ctx context.Context, id domain.PoolID, key []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	k := string(key)
	rec, ok := pp.records[k]
	if !ok {
		return domain.ErrKeyNotFound
	}
	pp.rmap.Free(rec.slot, 0, rec.objSize)
	delete(pp.records, k)
	return nil
}

func (p *Persistent) Count(ctx context.Context, id domain.PoolID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return 0, domain.ErrPoolNotFound
	}
	return uint64(len(pp.records)), nil
}

func (p *Persistent) CRC32(ctx context.Context, id domain.PoolID) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return 0, domain.ErrPoolNotFound
	}
	keys := make([]string, 0, len(pp.records))
	for k := range pp.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := crc32.NewIEEE()
	for _, k := range keys {
		rec := pp.records[k]
		h.Write(pp.rmap.Bytes(rec.slot, rec.objSize)[:rec.length])
	}
	return h.Sum32(), nil
}

func (p *Persistent) FindKey(ctx context.Context, id domain.PoolID, offset uint64) ([]byte, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[id]
	if !ok {
		return nil, 0, domain.ErrPoolNotFound
	}
	keys := make([]string, 0, len(pp.records))
	for k := range pp.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if offset >= uint64(len(keys)) {
		return nil, offset, domain.ErrKeyNotFound
	}
	return []byte(keys[offset]), offset + 1, nil
}
