package poolmgr

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/oriys/fabrickv/internal/domain"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 20)
	id, err := m.Create(ctx, "p0", 100<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Put(ctx, id, []byte("k1"), bytes.Repeat([]byte("v"), 64), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.Get(ctx, id, []byte("k1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 64 || !bytes.Equal(got, bytes.Repeat([]byte("v"), 64)) {
		t.Fatalf("got %d bytes, want 64 matching bytes", len(got))
	}
	count, err := m.Count(ctx, id)
	if err != nil || count != 1 {
		t.Fatalf("count = %d, err = %v, want 1, nil", count, err)
	}
}

func TestMemoryPutDuplicateWithoutReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	id, err := m.Create(ctx, "p0", 1<<16, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Put(ctx, id, []byte("dup"), bytes.Repeat([]byte("a"), 8), 0); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err = m.Put(ctx, id, []byte("dup"), bytes.Repeat([]byte("b"), 8), 0)
	if !errors.Is(err, domain.ErrKeyExists) {
		t.Fatalf("second put: got %v, want ErrKeyExists", err)
	}
	got, err := m.Get(ctx, id, []byte("dup"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("a"), 8)) {
		t.Fatalf("value was overwritten despite missing replace flag")
	}
}

func TestMemoryPutReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	id, _ := m.Create(ctx, "p0", 1<<16, domain.FlagCreate, 0)
	if err := m.Put(ctx, id, []byte("k"), []byte("v1"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put(ctx, id, []byte("k"), []byte("v2"), domain.FlagReplace); err != nil {
		t.Fatalf("replace put: %v", err)
	}
	got, _ := m.Get(ctx, id, []byte("k"))
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("got %q, want v2", got)
	}
}

func TestMemoryEraseThenGetNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	id, _ := m.Create(ctx, "p0", 1<<16, domain.FlagCreate, 0)
	if err := m.Put(ctx, id, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Erase(ctx, id, []byte("k")); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := m.Get(ctx, id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("get after erase: got %v, want ErrKeyNotFound", err)
	}
	if err := m.Erase(ctx, id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("second erase: got %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryCountTracksLiveKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 20)
	id, _ := m.Create(ctx, "p0", 1<<20, domain.FlagCreate, 0)
	for i := 0; i < 10; i++ {
		if err := m.Put(ctx, id, []byte{byte(i)}, []byte("v"), 0); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if err := m.Erase(ctx, id, []byte{3}); err != nil {
		t.Fatalf("erase: %v", err)
	}
	count, err := m.Count(ctx, id)
	if err != nil || count != 9 {
		t.Fatalf("count = %d, err = %v, want 9, nil", count, err)
	}
}

func TestMemoryGetUnknownPool(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	if _, err := m.Get(ctx, domain.PoolID(999), []byte("k")); !errors.Is(err, domain.ErrPoolNotFound) {
		t.Fatalf("got %v, want ErrPoolNotFound", err)
	}
}

func TestMemoryFindKeyPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	id, _ := m.Create(ctx, "p0", 1<<16, domain.FlagCreate, 0)
	for _, k := range []string{"alpha", "beta", "gamma"} {
		if err := m.Put(ctx, id, []byte(k), []byte("v"), 0); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	var found []string
	offset := uint64(0)
	for {
		key, next, err := m.FindKey(ctx, id, offset)
		if errors.Is(err, domain.ErrKeyNotFound) {
			break
		}
		if err != nil {
			t.Fatalf("findkey: %v", err)
		}
		found = append(found, string(key))
		offset = next
	}
	if len(found) != 3 {
		t.Fatalf("found %v, want 3 keys", found)
	}
}

func TestMemoryDeletePoolFreesSlots(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 16)
	id, _ := m.Create(ctx, "p0", 1<<16, domain.FlagCreate, 0)
	if err := m.Put(ctx, id, []byte("k"), bytes.Repeat([]byte("x"), 32), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Delete(ctx, "p0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "p0"); !errors.Is(err, domain.ErrPoolNotFound) {
		t.Fatalf("second delete: got %v, want ErrPoolNotFound", err)
	}
}
