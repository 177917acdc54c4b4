package client

import (
	"context"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/wire"
)

// resvdFor folds the connection's cached short-circuit flag into the
// per-request reserved bits (spec §4.3, §5).
func (c *Connection) resvdFor(direct bool) uint32 {
	var r uint32
	if c.opts.ShortCircuitBackend {
		r |= wire.ResvdSCBE
	}
	if direct {
		r |= wire.ResvdDirect
	}
	return r
}

// Put stores key/value inline in the request buffer. A value that would
// push key_len+value_len+header past the buffer's capacity fails with
// ErrTooLarge before any wire activity — invariant 8 of spec §8 — checked
// as the very first statement, before a buffer is even allocated.
func (c *Connection) Put(ctx context.Context, poolID domain.PoolID, key, value []byte, flags domain.Flags) (err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	needed := wire.HeaderLen + 4 + len(key) + 4 + len(value) + 32
	if needed > c.opts.BufferLen {
		return domain.ErrTooLarge
	}

	buf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(buf)
	if err := buf.verify(); err != nil {
		return err
	}

	req := wire.IORequest{
		Header:   wire.Header{AuthID: c.authID, RequestID: c.nextRequestID()},
		Op:       wire.OpPut,
		PoolID:   poolID,
		Resvd:    c.resvdFor(false),
		Key:      key,
		Value:    value,
		ValueLen: uint64(len(value)),
		Flags:    flags,
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

// PutDirect transfers value as a two-stage RDMA-style payload instead of
// inlining it: an OP_PUT_ADVANCE header message, followed by a dedicated
// payload send into the server's negotiated receive buffer. A value
// exceeding the negotiated max_message_size fails with ErrTooLarge
// synchronously, before any advance message is issued (spec scenario D).
func (c *Connection) PutDirect(ctx context.Context, poolID domain.PoolID, key, value []byte, flags domain.Flags) (err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	if c.maxMessageSize > 0 && len(value) > c.maxMessageSize {
		return domain.ErrTooLarge
	}

	regBuf, err := c.bufMgr.RegisterCallerMemory(value)
	if err != nil {
		return domain.ErrFail
	}
	defer c.bufMgr.DeregisterCallerMemory(regBuf)
	if err := regBuf.verify(); err != nil {
		return err
	}

	hdrBuf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(hdrBuf)
	if err := hdrBuf.verify(); err != nil {
		return err
	}

	req := wire.IORequest{
		Header:   wire.Header{AuthID: c.authID, RequestID: c.nextRequestID()},
		Op:       wire.OpPutAdvance,
		PoolID:   poolID,
		Resvd:    c.resvdFor(true),
		Key:      key,
		ValueLen: uint64(len(value)),
		Flags:    flags,
	}
	encoded := req.Encode(hdrBuf.Bytes()[:0])
	if err := c.transport.PostSend(ctx, encoded); err != nil {
		return domain.ErrFail
	}
	if err := c.transport.WaitForCompletion(ctx); err != nil {
		return domain.ErrFail
	}
	if err := c.transport.PostSend(ctx, value); err != nil {
		return domain.ErrFail
	}
	if err := c.transport.WaitForCompletion(ctx); err != nil {
		return domain.ErrFail
	}

	respBuf := make([]byte, len(hdrBuf.Bytes()))
	n, err := c.transport.PostRecv(ctx, respBuf)
	if err != nil {
		return domain.ErrFail
	}
	h, err := wire.GetHeader(respBuf[:n])
	if err != nil {
		return domain.ErrFail
	}
	if h.TypeID != wire.TypeIOResponse {
		return &domain.ProtocolError{Expected: uint8(wire.TypeIOResponse), Got: uint8(h.TypeID)}
	}
	return domain.Status(h.Status).Err()
}

// Get retrieves key's value inline, via the on-demand-registration path:
// the response payload lands in a page-aligned, hugepage-advised temp
// buffer rather than the fixed buffer pool, mirroring the source's
// aligned_alloc+madvise scratch buffer (§9). Get has only the inline path:
// the whole response, value included, is received into that buffer of
// Options.BufferLen bytes, and a response that does not fit fails with
// ErrFail. valueLen is the ValueLen carried by the response.
func (c *Connection) Get(ctx context.Context, poolID domain.PoolID, key []byte) (value []byte, valueLen uint64, err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	reqBuf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(reqBuf)
	if err := reqBuf.verify(); err != nil {
		return nil, 0, err
	}

	req := wire.IORequest{
		Header: wire.Header{AuthID: c.authID, RequestID: c.nextRequestID()},
		Op:     wire.OpGet,
		PoolID: poolID,
		Resvd:  c.resvdFor(false),
		Key:    key,
	}
	encoded := req.Encode(reqBuf.Bytes()[:0])
	if err := c.transport.PostSend(ctx, encoded); err != nil {
		return nil, 0, domain.ErrFail
	}
	if err := c.transport.WaitForCompletion(ctx); err != nil {
		return nil, 0, domain.ErrFail
	}

	tmp, err := newTempBuffer(c.opts.BufferLen)
	if err != nil {
		return nil, 0, domain.ErrFail
	}
	defer tmp.release()

	n, err := c.transport.PostRecv(ctx, tmp.data)
	if err != nil {
		return nil, 0, domain.ErrFail
	}
	h, err := wire.GetHeader(tmp.data[:n])
	if err != nil {
		return nil, 0, domain.ErrFail
	}
	if h.TypeID != wire.TypeIOResponse {
		return nil, 0, &domain.ProtocolError{Expected: uint8(wire.TypeIOResponse), Got: uint8(h.TypeID)}
	}
	if status := domain.Status(h.Status); status != domain.StatusOK {
		return nil, 0, status.Err()
	}
	resp, err := wire.DecodeIOResponse(tmp.data[:n])
	if err != nil {
		return nil, 0, domain.ErrFail
	}
	out := make([]byte, len(resp.Value))
	copy(out, resp.Value)
	return out, resp.ValueLen, nil
}

// GetDirect retrieves key's value into a caller-provided, pre-registered
// buffer via a two-stage transfer: an OP_GET_ADVANCE request, then a
// dedicated PostRecv into buf.
func (c *Connection) GetDirect(ctx context.Context, poolID domain.PoolID, key []byte, buf []byte) (valueLen uint64, err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	regBuf, err := c.bufMgr.RegisterCallerMemory(buf)
	if err != nil {
		return 0, domain.ErrFail
	}
	defer c.bufMgr.DeregisterCallerMemory(regBuf)
	if err := regBuf.verify(); err != nil {
		return 0, err
	}

	reqBuf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(reqBuf)
	if err := reqBuf.verify(); err != nil {
		return 0, err
	}

	req := wire.IORequest{
		Header:   wire.Header{AuthID: c.authID, RequestID: c.nextRequestID()},
		Op:       wire.OpGetAdvance,
		PoolID:   poolID,
		Resvd:    c.resvdFor(true),
		Key:      key,
		ValueLen: uint64(len(buf)),
	}
	encoded := req.Encode(reqBuf.Bytes()[:0])
	if err := c.transport.PostSend(ctx, encoded); err != nil {
		return 0, domain.ErrFail
	}
	if err := c.transport.WaitForCompletion(ctx); err != nil {
		return 0, domain.ErrFail
	}

	ackBuf := make([]byte, len(reqBuf.Bytes()))
	n, err := c.transport.PostRecv(ctx, ackBuf)
	if err != nil {
		return 0, domain.ErrFail
	}
	h, err := wire.GetHeader(ackBuf[:n])
	if err != nil {
		return 0, domain.ErrFail
	}
	if h.TypeID != wire.TypeIOResponse {
		return 0, &domain.ProtocolError{Expected: uint8(wire.TypeIOResponse), Got: uint8(h.TypeID)}
	}
	if status := domain.Status(h.Status); status != domain.StatusOK {
		return 0, status.Err()
	}
	ack, err := wire.DecodeIOResponse(ackBuf[:n])
	if err != nil {
		return 0, domain.ErrFail
	}

	if _, err := c.transport.PostRecv(ctx, buf); err != nil {
		return 0, domain.ErrFail
	}
	return ack.ValueLen, nil
}

// Erase removes key from poolID.
func (c *Connection) Erase(ctx context.Context, poolID domain.PoolID, key []byte) (err error) {
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
		Op:     wire.OpErase,
		PoolID: poolID,
		Resvd:  c.resvdFor(false),
		Key:    key,
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

func (c *Connection) infoRequest(ctx context.Context, req wire.InfoRequest) (out wire.InfoResponse, err error) {
	defer recoverToErrFail(&err)
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	buf := c.bufMgr.Allocate()
	defer c.bufMgr.FreeBuffer(buf)
	if err := buf.verify(); err != nil {
		return wire.InfoResponse{}, err
	}

	req.Header.AuthID = c.authID
	req.Header.RequestID = c.nextRequestID()
	encoded := req.Encode(buf.Bytes()[:0])
	resp := make([]byte, len(buf.Bytes()))
	h, raw, err := c.sendRecv(ctx, encoded, resp)
	if err != nil {
		return wire.InfoResponse{}, err
	}
	if h.TypeID != wire.TypeInfoResponse {
		return wire.InfoResponse{}, &domain.ProtocolError{Expected: uint8(wire.TypeInfoResponse), Got: uint8(h.TypeID)}
	}
	if status := domain.Status(h.Status); status != domain.StatusOK {
		return wire.InfoResponse{}, status.Err()
	}
	return wire.DecodeInfoResponse(raw)
}

// Count returns the number of live keys in poolID.
func (c *Connection) Count(ctx context.Context, poolID domain.PoolID) (uint64, error) {
	resp, err := c.infoRequest(ctx, wire.InfoRequest{PoolID: poolID, Type: domain.AttrCount})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// GetAttribute answers a pool-wide attribute query (CRC32, PercentUsed,
// MemoryType, WriteEpochTime, or per-key ValueLen when key is non-nil).
func (c *Connection) GetAttribute(ctx context.Context, poolID domain.PoolID, attr domain.Attribute, key []byte) (uint64, error) {
	resp, err := c.infoRequest(ctx, wire.InfoRequest{PoolID: poolID, Type: attr, Key: key})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Find pages through poolID's keyspace from offset, returning the next
// matching key and the offset to resume from.
func (c *Connection) Find(ctx context.Context, poolID domain.PoolID, expression []byte, offset uint64) ([]byte, uint64, error) {
	resp, err := c.infoRequest(ctx, wire.InfoRequest{PoolID: poolID, Type: domain.AttrFindKey, Offset: offset, Key: expression})
	if err != nil {
		return nil, offset, err
	}
	return resp.FoundKey, resp.NextOffset, nil
}
