package region

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/oriys/fabrickv/internal/domain"
)

func newTestMap(t *testing.T, arenaBytes int) *RegionMap {
	t.Helper()
	m := NewRegionMap()
	m.AddArena(make([]byte, arenaBytes))
	return m
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	m := newTestMap(t, 1<<20)
	s, err := m.Allocate(24, 0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Free(s, 0, 24); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestAllocateInvalidNUMA(t *testing.T) {
	m := newTestMap(t, 1<<16)
	if _, err := m.Allocate(16, MaxNUMAZones); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if _, err := m.Allocate(16, -1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestAllocateTooLargeOutOfRange(t *testing.T) {
	m := newTestMap(t, 1<<20)
	huge := int(^uint(0) >> 1)
	if _, err := m.Allocate(huge, 0); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
}

func TestFreeUnownedPointerFails(t *testing.T) {
	m := newTestMap(t, 1<<16)
	if err := m.Free(Slot{ArenaID: 0, Offset: 0}, 0, 16); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

// TestInjectThenFree covers invariant 6: inject_allocation(p, s, n)
// followed by free(p, n, s) succeeds.
func TestInjectThenFree(t *testing.T) {
	m := newTestMap(t, 1<<16)
	s, err := m.Allocate(32, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Free(s, 1, 32); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := m.InjectAllocation(s, 32, 1); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if err := m.Free(s, 1, 32); err != nil {
		t.Fatalf("free after inject: %v", err)
	}
}

// TestInjectAlreadyUsedIsIdempotent covers invariant 6's idempotency
// clause: injecting an already-used slot succeeds without effect.
func TestInjectAlreadyUsedIsIdempotent(t *testing.T) {
	m := newTestMap(t, 1<<16)
	s, err := m.Allocate(32, 0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.InjectAllocation(s, 32, 0); err != nil {
		t.Fatalf("first inject: %v", err)
	}
	if err := m.InjectAllocation(s, 32, 0); err != nil {
		t.Fatalf("second inject (idempotent): %v", err)
	}
	if err := m.Free(s, 0, 32); err != nil {
		t.Fatalf("free still works after double inject: %v", err)
	}
}

// TestAllocateFreeShuffleNoLeak is spec scenario F: allocate(24, 0) x1000,
// shuffle, free x1000 — no leak, every region ends with an empty used set.
func TestAllocateFreeShuffleNoLeak(t *testing.T) {
	m := newTestMap(t, 8<<20)
	const n = 1000
	slots := make([]Slot, n)
	for i := range slots {
		s, err := m.Allocate(24, 0)
		if err != nil {
			t.Fatalf("allocate[%d]: %v", i, err)
		}
		slots[i] = s
	}

	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(n, func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

	for i, s := range slots {
		if err := m.Free(s, 0, 24); err != nil {
			t.Fatalf("free[%d]: %v", i, err)
		}
	}

	b := bucketOf(roundUpPow2(24))
	for _, r := range m.buckets[0][b] {
		if len(r.used) != 0 {
			t.Fatalf("region still has %d used slots after full free", len(r.used))
		}
		if len(r.free) != slotsPerRegion {
			t.Fatalf("region free list has %d entries, want %d", len(r.free), slotsPerRegion)
		}
	}
}

// TestAllocateStaysInOwningRegion covers invariant 5's range clause: every
// slot returned by Allocate lies within its owning region's byte span.
func TestAllocateStaysInOwningRegion(t *testing.T) {
	m := newTestMap(t, 1<<20)
	objSize := roundUpPow2(40)
	for i := 0; i < slotsPerRegion*3; i++ {
		s, err := m.Allocate(40, 0)
		if err != nil {
			t.Fatalf("allocate[%d]: %v", i, err)
		}
		b := bucketOf(objSize)
		if _, _, ok := findOwnerAny(m.buckets[0][b], s); !ok {
			t.Fatalf("slot %+v not owned by any region in its bucket", s)
		}
	}
}

func findOwnerAny(list []*region, p Slot) (*region, int, bool) {
	for _, r := range list {
		if i, ok := r.owns(p); ok {
			return r, i, true
		}
	}
	return nil, 0, false
}

func TestBucketOfRoundTrip(t *testing.T) {
	for _, size := range []int{1, 7, 8, 9, 15, 16, 1024, 1 << 20} {
		obj := roundUpPow2(size)
		b := bucketOf(obj)
		if b < 0 {
			t.Fatalf("size %d: unexpected -1 bucket", size)
		}
		if got := objectSizeOfBucket(b); got != obj {
			t.Fatalf("size %d: bucket round trip got %d, want %d", size, got, obj)
		}
	}
}
