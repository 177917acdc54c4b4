package server

import (
	"bytes"
	"errors"
	"testing"

	"github.com/oriys/fabrickv/internal/domain"
)

func TestIndexPutGetErase(t *testing.T) {
	idx := NewIndex()
	id := domain.PoolID(1)

	if err := idx.Put(id, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := idx.Get(id, []byte("k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get = %q, err = %v", got, err)
	}
	if err := idx.Erase(id, []byte("k")); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := idx.Get(id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("get after erase: got %v, want ErrKeyNotFound", err)
	}
}

func TestIndexPutDuplicateWithoutReplace(t *testing.T) {
	idx := NewIndex()
	id := domain.PoolID(2)
	if err := idx.Put(id, []byte("k"), []byte("v1"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := idx.Put(id, []byte("k"), []byte("v2"), 0)
	if !errors.Is(err, domain.ErrKeyExists) {
		t.Fatalf("got %v, want ErrKeyExists", err)
	}
}

func TestIndexDropRemovesKeyspace(t *testing.T) {
	idx := NewIndex()
	id := domain.PoolID(3)
	if err := idx.Put(id, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	idx.Drop(id)
	if _, err := idx.Get(id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("get after drop: got %v, want ErrKeyNotFound", err)
	}
}

func TestIndexFindKeyOrdering(t *testing.T) {
	idx := NewIndex()
	id := domain.PoolID(4)
	for _, k := range []string{"zeta", "alpha", "mu"} {
		if err := idx.Put(id, []byte(k), []byte("v"), 0); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	key, next, err := idx.FindKey(id, 0)
	if err != nil || string(key) != "alpha" {
		t.Fatalf("first key = %q, err = %v, want alpha", key, err)
	}
	key, next, err = idx.FindKey(id, next)
	if err != nil || string(key) != "mu" {
		t.Fatalf("second key = %q, err = %v, want mu", key, err)
	}
	_ = next
}

func TestIndexCount(t *testing.T) {
	idx := NewIndex()
	id := domain.PoolID(5)
	for i := 0; i < 4; i++ {
		if err := idx.Put(id, []byte{byte(i)}, []byte("v"), 0); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if c := idx.Count(id); c != 4 {
		t.Fatalf("count = %d, want 4", c)
	}
}
