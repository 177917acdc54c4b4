package client

import (
	"context"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/wire"
)

func (c *Connection) poolRequest(ctx context.Context, req wire.PoolRequest) (out wire.PoolResponse, err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	buf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(buf)
	if err := buf.verify(); err != nil {
		return wire.PoolResponse{}, err
	}

	req.Header.AuthID = c.authID
	req.Header.RequestID = c.nextRequestID()
	encoded := req.Encode(buf.Bytes()[:0])

	resp := make([]byte, len(buf.Bytes()))
	h, raw, err := c.sendRecv(ctx, encoded, resp)
	if err != nil {
		return wire.PoolResponse{}, err
	}
	if h.TypeID != wire.TypePoolResponse {
		return wire.PoolResponse{}, &domain.ProtocolError{Expected: uint8(wire.TypePoolResponse), Got: uint8(h.TypeID)}
	}
	// §9 decision: take status from the response message, not the
	// request, unlike the source's create_pool.
	if status := domain.Status(h.Status); status != domain.StatusOK {
		return wire.PoolResponse{}, status.Err()
	}
	return wire.DecodePoolResponse(raw)
}

// CreatePool creates a pool named name with the given size, flags, and
// expected-object-count sizing hint.
func (c *Connection) CreatePool(ctx context.Context, name string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error) {
	resp, err := c.poolRequest(ctx, wire.PoolRequest{
		Op: wire.OpCreate, Name: name, Size: size, Flags: flags, ExpectedObjectCount: expectedCount,
	})
	if err != nil {
		return domain.PoolError, err
	}
	return resp.PoolID, nil
}

// OpenPool opens an existing pool named name.
func (c *Connection) OpenPool(ctx context.Context, name string, flags domain.Flags) (domain.PoolID, error) {
	resp, err := c.poolRequest(ctx, wire.PoolRequest{Op: wire.OpOpen, Name: name, Flags: flags})
	if err != nil {
		return domain.PoolError, err
	}
	return resp.PoolID, nil
}

// ClosePool closes a handle previously returned by CreatePool/OpenPool.
func (c *Connection) ClosePool(ctx context.Context, id domain.PoolID) error {
	_, err := c.poolRequest(ctx, wire.PoolRequest{Op: wire.OpClose, PoolID: id})
	return err
}

// DeletePool removes a pool's backing storage outright.
func (c *Connection) DeletePool(ctx context.Context, name string) error {
	_, err := c.poolRequest(ctx, wire.PoolRequest{Op: wire.OpDelete, Name: name})
	return err
}

// ConfigurePool is answered by an IO_REQUEST with OpConfigure rather than
// a pool request — it targets an already-open pool's runtime behavior
// (e.g. auto hashtable expansion), not its lifecycle.
func (c *Connection) ConfigurePool(ctx context.Context, id domain.PoolID, setting string, value uint64) (err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	buf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(buf)
	if err := buf.verify(); err != nil {
		return err
	}

	req := wire.IORequest{
		Header: wire.Header{AuthID: c.authID, RequestID: c.nextRequestID()},
		Op:     wire.OpConfigure,
		PoolID: id,
		Key:    []byte(setting),
		Value:  encodeUint64(value),
	}
	encoded := req.Encode(buf.Bytes()[:0])
	resp := make([]byte, len(buf.Bytes()))
	h, _, err := c.sendRecv(ctx, encoded, resp)
	if err != nil {
		return err
	}
	if h.TypeID != wire.TypeIOResponse {
		return &domain.ProtocolError{Expected: uint8(wire.TypeIOResponse), Got: uint8(h.TypeID)}
	}
	return domain.Status(h.Status).Err()
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
