// Package region implements the bucketed region-map allocator: a
// size-segregated, NUMA-zone-indexed sub-allocator over a byte-slice arena.
// Each power-of-two size class ("bucket") owns a list of fixed-slot-count
// regions; a region tracks its slots as free/used index sets rather than a
// linked list of raw pointers, since Go slices can't be threaded through
// pointer arithmetic the way the source's intrusive lists are.
package region

import "github.com/oriys/fabrickv/internal/domain"

// region is one carved span of slotsPerRegion equal-sized slots.
type region struct {
	base       Slot
	objectSize int
	free       []int // free slot indices, LIFO
	used       map[int]bool
}

func newRegion(base Slot, objectSize int) *region {
	free := make([]int, slotsPerRegion)
	for i := range free {
		free[i] = slotsPerRegion - 1 - i // pop from the tail, slot 0 first
	}
	return &region{base: base, objectSize: objectSize, free: free, used: make(map[int]bool)}
}

func (r *region) owns(s Slot) (slotIndex int, ok bool) {
	if s.ArenaID != r.base.ArenaID {
		return 0, false
	}
	span := r.objectSize * slotsPerRegion
	if s.Offset < r.base.Offset || s.Offset >= r.base.Offset+span {
		return 0, false
	}
	rel := s.Offset - r.base.Offset
	if rel%r.objectSize != 0 {
		return 0, false
	}
	return rel / r.objectSize, true
}

func (r *region) slot(i int) Slot {
	return Slot{ArenaID: r.base.ArenaID, Offset: r.base.Offset + i*r.objectSize}
}

// popFree pops and returns a free slot, or ok=false if the region is full.
func (r *region) popFree() (Slot, bool) {
	if len(r.free) == 0 {
		return Slot{}, false
	}
	i := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.used[i] = true
	return r.slot(i), true
}

// RegionMap is the bucketed size-class allocator (spec §4.1). It is not
// thread-safe: callers must serialize access per NUMA zone.
type RegionMap struct {
	a       *arena
	buckets [MaxNUMAZones][NumBuckets][]*region
}

// NewRegionMap constructs an empty map with no registered arena capacity.
func NewRegionMap() *RegionMap {
	return &RegionMap{a: newArena()}
}

// AddArena registers a backing slab with the underlying arena allocator.
// It takes no NUMA zone: the arena has no NUMA affinity, and every zone's
// buckets carve regions from the same slabs.
func (m *RegionMap) AddArena(base []byte) int {
	return m.a.addBase(base)
}

// Bytes returns the n-byte backing span for a slot previously returned by
// Allocate, for callers (the in-memory pool backend) that need to copy
// payload data in and out of allocator-owned storage.
func (m *RegionMap) Bytes(s Slot, n int) []byte {
	return m.a.bytes(s, n)
}

func validNUMA(numa int) error {
	if numa < 0 || numa >= MaxNUMAZones {
		return domain.ErrInvalidArgument
	}
	return nil
}

// Allocate carves out a slot sized to the next power of two ≥ size
// (minimum MinObjectSize) from the bucket list for numa, growing the
// bucket with a freshly carved region when every existing region is full.
func (m *RegionMap) Allocate(size int, numa int) (Slot, error) {
	if err := validNUMA(numa); err != nil {
		return Slot{}, err
	}
	objSize := roundUpPow2(size)
	b := bucketOf(objSize)
	if b < 0 {
		return Slot{}, domain.ErrOutOfRange
	}

	list := m.buckets[numa][b]
	for _, r := range list {
		if s, ok := r.popFree(); ok {
			return s, nil
		}
	}

	base, err := m.a.alloc(objSize * slotsPerRegion)
	if err != nil {
		return Slot{}, err
	}
	r := newRegion(base, objSize)
	m.buckets[numa][b] = append([]*region{r}, list...)
	s, ok := r.popFree()
	if !ok {
		// unreachable: a freshly carved region always has slotsPerRegion
		// free slots.
		return Slot{}, domain.ErrBadAlloc
	}
	return s, nil
}

// Free releases p back to its owning region. When objectSize is 0 every
// bucket in numa's zone is searched for the owning region, mirroring the
// source's "free by range check" fallback.
func (m *RegionMap) Free(p Slot, numa int, objectSize int) error {
	if err := validNUMA(numa); err != nil {
		return err
	}
	if objectSize > 0 {
		b := bucketOf(roundUpPow2(objectSize))
		if b < 0 {
			return domain.ErrOutOfRange
		}
		if r, i, ok := findOwner(m.buckets[numa][b], p); ok {
			return freeSlot(r, i)
		}
		return domain.ErrInvalidArgument
	}
	for b := 0; b < NumBuckets; b++ {
		if r, i, ok := findOwner(m.buckets[numa][b], p); ok {
			return freeSlot(r, i)
		}
	}
	return domain.ErrInvalidArgument
}

// InjectAllocation marks p as used without handing it to a caller, for
// recovery of pools reopened from persistent storage. It is idempotent: if
// p is already marked used in its owning region, the call succeeds without
// effect (spec invariant 6). It only finds slots inside regions this map
// has already carved; it carves no region for p, and returns
// ErrInvalidArgument when no existing region owns p.
func (m *RegionMap) InjectAllocation(p Slot, size int, numa int) error {
	if err := validNUMA(numa); err != nil {
		return err
	}
	objSize := roundUpPow2(size)
	b := bucketOf(objSize)
	if b < 0 {
		return domain.ErrOutOfRange
	}
	for _, r := range m.buckets[numa][b] {
		i, ok := r.owns(p)
		if !ok {
			continue
		}
		if r.used[i] {
			return nil // already injected: idempotent no-op
		}
		for fi, free := range r.free {
			if free == i {
				r.free = append(r.free[:fi], r.free[fi+1:]...)
				break
			}
		}
		r.used[i] = true
		return nil
	}
	return domain.ErrInvalidArgument
}

func findOwner(list []*region, p Slot) (*region, int, bool) {
	for _, r := range list {
		if i, ok := r.owns(p); ok && r.used[i] {
			return r, i, true
		}
	}
	return nil, 0, false
}

func freeSlot(r *region, i int) error {
	delete(r.used, i)
	r.free = append(r.free, i)
	return nil
}
