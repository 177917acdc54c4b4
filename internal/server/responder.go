package server

import (
	"context"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/fabric"
	"github.com/oriys/fabrickv/internal/poolmgr"
	"github.com/oriys/fabrickv/internal/wire"
)

// Responder answers one connection's requests. Pool lifecycle and every
// IO/attribute operation dispatch to the configured poolmgr.PoolManager,
// the sole backing store; index is only a read-through cache in front of
// it for Get/AttrValueLen. One Responder is constructed per accepted
// connection by cmd/fabricd, goroutine-per-connection, so the index and
// pool manager it holds may be shared process-wide while dispatch itself
// needs no extra locking beyond what Index/PoolManager already provide.
type Responder struct {
	transport fabric.Transport
	mgr       poolmgr.PoolManager
	index     *Index
	authID    uint64
	maxMsg    int
}

func NewResponder(transport fabric.Transport, mgr poolmgr.PoolManager, index *Index, authID uint64, maxMsg int) *Responder {
	return &Responder{transport: transport, mgr: mgr, index: index, authID: authID, maxMsg: maxMsg}
}

// ServeHandshake answers the client's initial handshake, caching nothing
// server-side beyond what the wire reply carries.
func (r *Responder) ServeHandshake(ctx context.Context) error {
	buf := make([]byte, wire.HeaderLen+16)
	n, err := r.transport.PostRecv(ctx, buf)
	if err != nil {
		return err
	}
	h, err := wire.GetHeader(buf[:n])
	if err != nil {
		return err
	}
	if h.TypeID != wire.TypeHandshake {
		return &domain.ProtocolError{Expected: uint8(wire.TypeHandshake), Got: uint8(h.TypeID)}
	}
	reply := wire.HandshakeReply{MaxMessageSize: uint64(r.maxMsg)}
	out := reply.Encode(make([]byte, 0, wire.HeaderLen+8))
	if err := r.transport.PostSend(ctx, out); err != nil {
		return err
	}
	return r.transport.WaitForCompletion(ctx)
}

// Serve loops, answering one request per iteration, until the transport
// is closed or ctx is done.
func (r *Responder) Serve(ctx context.Context) error {
	if err := r.ServeHandshake(ctx); err != nil {
		return err
	}
	for {
		if err := r.serveOne(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (r *Responder) serveOne(ctx context.Context) error {
	buf := make([]byte, r.maxMsg)
	n, err := r.transport.PostRecv(ctx, buf)
	if err != nil {
		return err
	}
	h, err := wire.GetHeader(buf[:n])
	if err != nil {
		return err
	}

	switch h.TypeID {
	case wire.TypeCloseSession:
		return errClosed

	case wire.TypePoolRequest:
		return r.handlePoolRequest(ctx, buf[:n], h)

	case wire.TypeIORequest:
		return r.handleIORequest(ctx, buf[:n], h)

	case wire.TypeInfoRequest:
		return r.handleInfoRequest(ctx, buf[:n], h)

	default:
		return &domain.ProtocolError{Got: uint8(h.TypeID), Msg: "unexpected request type"}
	}
}

var errClosed = errServeClosed{}

type errServeClosed struct{}

func (errServeClosed) Error() string { return "server: connection closed by peer" }

func (r *Responder) handlePoolRequest(ctx context.Context, raw []byte, h wire.Header) error {
	req, err := wire.DecodePoolRequest(raw)
	if err != nil {
		return err
	}

	var (
		id    domain.PoolID
		opErr error
	)
	switch req.Op {
	case wire.OpCreate:
		id, opErr = r.mgr.Create(ctx, req.Name, req.Size, req.Flags, req.ExpectedObjectCount)
	case wire.OpOpen:
		id, opErr = r.mgr.Open(ctx, req.Name, req.Flags)
	case wire.OpClose:
		opErr = r.mgr.Close(ctx, req.PoolID)
		id = req.PoolID
		if opErr == nil {
			r.index.Drop(req.PoolID)
		}
	case wire.OpDelete:
		opErr = r.mgr.Delete(ctx, req.Name)
	default:
		opErr = domain.ErrInval
	}

	resp := wire.PoolResponse{Header: wire.Header{AuthID: h.AuthID, RequestID: h.RequestID, Status: int32(domain.StatusFromErr(opErr))}, PoolID: id}
	out := resp.Encode(make([]byte, 0, wire.HeaderLen+8))
	if err := r.transport.PostSend(ctx, out); err != nil {
		return err
	}
	return r.transport.WaitForCompletion(ctx)
}

func (r *Responder) handleIORequest(ctx context.Context, raw []byte, h wire.Header) error {
	req, err := wire.DecodeIORequest(raw)
	if err != nil {
		return err
	}

	switch req.Op {
	case wire.OpPut:
		err = r.mgr.Put(ctx, req.PoolID, req.Key, req.Value, req.Flags)
		if err == nil {
			r.index.Invalidate(req.PoolID, req.Key)
		}
		return r.respondIO(ctx, h, err, nil, 0)

	case wire.OpPutAdvance:
		payload := make([]byte, req.ValueLen)
		if _, perr := r.transport.PostRecv(ctx, payload); perr != nil {
			return perr
		}
		err = r.mgr.Put(ctx, req.PoolID, req.Key, payload, req.Flags)
		if err == nil {
			r.index.Invalidate(req.PoolID, req.Key)
		}
		return r.respondIO(ctx, h, err, nil, 0)

	case wire.OpGet:
		value, gerr := r.cachedGet(ctx, req.PoolID, req.Key)
		return r.respondIO(ctx, h, gerr, value, uint64(len(value)))

	case wire.OpGetAdvance:
		value, gerr := r.cachedGet(ctx, req.PoolID, req.Key)
		if gerr != nil {
			return r.respondIO(ctx, h, gerr, nil, 0)
		}
		if err := r.respondIO(ctx, h, nil, nil, uint64(len(value))); err != nil {
			return err
		}
		if err := r.transport.PostSend(ctx, value); err != nil {
			return err
		}
		return r.transport.WaitForCompletion(ctx)

	case wire.OpErase:
		err = r.mgr.Erase(ctx, req.PoolID, req.Key)
		if err == nil {
			r.index.Invalidate(req.PoolID, req.Key)
		}
		return r.respondIO(ctx, h, err, nil, 0)

	case wire.OpConfigure:
		// Runtime pool settings are accepted and acknowledged; no backend
		// currently varies behavior on them.
		return r.respondIO(ctx, h, nil, nil, 0)

	default:
		return r.respondIO(ctx, h, domain.ErrInval, nil, 0)
	}
}

// cachedGet answers a Get from the Index read cache when
// present, falling through to the pool manager (the authoritative store)
// on a miss and filling the cache from that result.
func (r *Responder) cachedGet(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error) {
	if value, err := r.index.Get(id, key); err == nil {
		return value, nil
	}
	value, err := r.mgr.Get(ctx, id, key)
	if err != nil {
		return nil, err
	}
	r.index.Fill(id, key, value)
	return value, nil
}

func (r *Responder) respondIO(ctx context.Context, h wire.Header, opErr error, value []byte, valueLen uint64) error {
	resp := wire.IOResponse{
		Header:   wire.Header{AuthID: h.AuthID, RequestID: h.RequestID, Status: int32(domain.StatusFromErr(opErr))},
		Value:    value,
		ValueLen: valueLen,
	}
	out := resp.Encode(make([]byte, 0, wire.HeaderLen+8+len(value)))
	if err := r.transport.PostSend(ctx, out); err != nil {
		return err
	}
	return r.transport.WaitForCompletion(ctx)
}

func (r *Responder) handleInfoRequest(ctx context.Context, raw []byte, h wire.Header) error {
	req, err := wire.DecodeInfoRequest(raw)
	if err != nil {
		return err
	}

	var resp wire.InfoResponse
	var opErr error
	switch req.Type {
	case domain.AttrCount:
		resp.Value, opErr = r.mgr.Count(ctx, req.PoolID)
	case domain.AttrFindKey:
		key, next, ferr := r.mgr.FindKey(ctx, req.PoolID, req.Offset)
		resp.FoundKey = key
		resp.NextOffset = next
		opErr = ferr
	case domain.AttrValueLen:
		v, gerr := r.cachedGet(ctx, req.PoolID, req.Key)
		if gerr == nil {
			resp.Value = uint64(len(v))
		}
		opErr = gerr
	case domain.AttrCRC32:
		var crc uint32
		crc, opErr = r.mgr.CRC32(ctx, req.PoolID)
		resp.Value = uint64(crc)
	default:
		opErr = domain.ErrInval
	}

	resp.Header = wire.Header{AuthID: h.AuthID, RequestID: h.RequestID, Status: int32(domain.StatusFromErr(opErr))}
	out := resp.Encode(make([]byte, 0, wire.HeaderLen+16))
	if err := r.transport.PostSend(ctx, out); err != nil {
		return err
	}
	return r.transport.WaitForCompletion(ctx)
}
