package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/fabric"
	"github.com/oriys/fabrickv/internal/poolmgr"
	"github.com/oriys/fabrickv/internal/server"
)

// newTestPair wires a Connection to an in-process Responder over a
// Loopback transport pair, running the responder's serve loop in a
// background goroutine for the duration of the test.
func newTestPair(t *testing.T) (*Connection, func()) {
	t.Helper()
	clientSide, serverSide := fabric.NewLoopbackPair(1<<16, 4<<20)

	// 256 MiB arena: a 64-slot region for scenario E's 2 MiB objects
	// alone claims 128 MiB.
	mgr := poolmgr.NewMemory(256 << 20)
	idx := server.NewIndex()
	resp := server.NewResponder(serverSide, mgr, idx, 0, 4<<20)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp.Serve(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := New(ctx, clientSide, 42, Options{BufferCount: 4, BufferLen: 1 << 16})
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	cleanup := func() {
		conn.Close(context.Background())
		serverSide.Close()
		<-done
	}
	return conn, cleanup
}

func TestHandshakeReachesReady(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	if conn.State() != StateReady {
		t.Fatalf("state = %v, want READY", conn.State())
	}
	if conn.MaxMessageSize() != 4<<20 {
		t.Fatalf("max_message_size = %d, want %d", conn.MaxMessageSize(), 4<<20)
	}
}

// TestPutGetRoundTrip is spec scenario A.
func TestPutGetRoundTrip(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "p0", 100<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	value := bytes.Repeat([]byte("v"), 64)
	if err := conn.Put(ctx, id, []byte("k1"), value, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, n, err := conn.Get(ctx, id, []byte("k1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n != 64 || !bytes.Equal(got, value) {
		t.Fatalf("got len=%d bytes=%q, want len=64 bytes=%q", n, got, value)
	}

	count, err := conn.Count(ctx, id)
	if err != nil || count != 1 {
		t.Fatalf("count = %d, err = %v, want 1, nil", count, err)
	}
}

// TestPutDuplicateKeyExists is spec scenario B.
func TestPutDuplicateKeyExists(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "dup-pool", 1<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	first := bytes.Repeat([]byte("a"), 8)
	second := bytes.Repeat([]byte("b"), 8)
	if err := conn.Put(ctx, id, []byte("dup"), first, 0); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err = conn.Put(ctx, id, []byte("dup"), second, 0)
	if !errors.Is(err, domain.ErrKeyExists) {
		t.Fatalf("second put: got %v, want ErrKeyExists", err)
	}

	got, _, err := conn.Get(ctx, id, []byte("dup"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Fatalf("value changed despite rejected duplicate put")
	}
}

// TestEraseThenGetNotFound is spec invariant 3.
func TestEraseThenGetNotFound(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "erase-pool", 1<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if err := conn.Put(ctx, id, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := conn.Erase(ctx, id, []byte("k")); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, _, err := conn.Get(ctx, id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("get after erase: got %v, want ErrKeyNotFound", err)
	}
	if err := conn.Erase(ctx, id, []byte("k")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("second erase: got %v, want ErrKeyNotFound", err)
	}
}

// TestPutTooLargeBeforeWireActivity is spec invariant 8 / scenario C.
func TestPutTooLargeBeforeWireActivity(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "tiny", 1, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	huge := make([]byte, conn.opts.BufferLen*2)
	err = conn.Put(ctx, id, bytes.Repeat([]byte("k"), 8), huge, 0)
	if !errors.Is(err, domain.ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}

	// Pool must remain openable after a too-large put.
	if _, err := conn.OpenPool(ctx, "tiny", 0); err != nil {
		t.Fatalf("reopen after too-large put: %v", err)
	}
}

// TestPutDirectTooLargeSynchronous is spec scenario D.
func TestPutDirectTooLargeSynchronous(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "direct-pool", 100<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	huge := make([]byte, conn.MaxMessageSize()+1)
	err = conn.PutDirect(ctx, id, []byte("k"), huge, 0)
	if !errors.Is(err, domain.ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

// TestPutDirectGetDirectRoundTrip is spec scenario E.
func TestPutDirectGetDirectRoundTrip(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "direct-ok", 100<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	value := bytes.Repeat([]byte("z"), 2<<20)
	if err := conn.PutDirect(ctx, id, []byte("bigkey"), value, 0); err != nil {
		t.Fatalf("put direct: %v", err)
	}

	out := make([]byte, len(value))
	n, err := conn.GetDirect(ctx, id, []byte("bigkey"), out)
	if err != nil {
		t.Fatalf("get direct: %v", err)
	}
	if n != uint64(len(value)) || !bytes.Equal(out, value) {
		t.Fatalf("get direct mismatch: n=%d", n)
	}
}

// TestRequestIDMonotonic is spec invariant 7.
func TestRequestIDMonotonic(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "mono", 1<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	var last uint64
	for i := 0; i < 5; i++ {
		before := conn.requestID
		if err := conn.Put(ctx, id, []byte{byte(i)}, []byte("v"), 0); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		after := conn.requestID
		if after <= before {
			t.Fatalf("request_id did not advance: before=%d after=%d", before, after)
		}
		if after <= last {
			t.Fatalf("request_id not strictly monotonic: last=%d after=%d", last, after)
		}
		last = after
	}
}

// TestFindPaging covers the Find/AttrFindKey path.
func TestFindPaging(t *testing.T) {
	conn, cleanup := newTestPair(t)
	defer cleanup()
	ctx := context.Background()

	id, err := conn.CreatePool(ctx, "find-pool", 1<<20, domain.FlagCreate, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	for _, k := range []string{"alpha", "beta", "gamma"} {
		if err := conn.Put(ctx, id, []byte(k), []byte("v"), 0); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	var found []string
	offset := uint64(0)
	for i := 0; i < 10; i++ {
		key, next, ferr := conn.Find(ctx, id, nil, offset)
		if errors.Is(ferr, domain.ErrKeyNotFound) {
			break
		}
		if ferr != nil {
			t.Fatalf("find: %v", ferr)
		}
		found = append(found, string(key))
		offset = next
	}
	if len(found) != 3 {
		t.Fatalf("found %v, want 3 keys", found)
	}
}
