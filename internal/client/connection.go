// Package client implements the connection state machine and public API a
// caller drives to talk to a pool server over a fabric.Transport
// (spec §4.3, §4.4). Grounded on original_source's
// components/client/dawn/src/connection.cpp: the same
// initialize/handshake/ready/shutdown progression, the same per-operation
// acquire-buffer/build-request/send/recv/release-buffer shape, reimplemented
// with explicit (T, error) returns instead of exceptions.
package client

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/fabric"
	"github.com/oriys/fabrickv/internal/wire"
)

// defaultInlineThreshold is not referenced by Put or Get: Put bounds its
// inline payload by Options.BufferLen, and Get has no two-stage path.
const defaultInlineThreshold = 4096

// Options configures a Connection at construction.
type Options struct {
	// ShortCircuitBackend, if true, is OR'd into wire.ResvdSCBE on every
	// Put/Get; normally sourced from the SHORT_CIRCUIT_BACKEND env var.
	ShortCircuitBackend bool
	BufferCount         int
	BufferLen           int
}

// Connection is a single client session against a pool server. Every
// public operation locks apiMu for the duration of its request/response
// round trip — the core makes no cross-connection guarantees and none are
// needed within one (spec §5).
type Connection struct {
	transport fabric.Transport
	bufMgr    *BufferManager

	apiMu sync.Mutex

	requestID uint64 // atomic; serialized in practice by apiMu
	authID    uint64

	maxInjectSize  int
	maxMessageSize int

	state State
	opts  Options
}

// New constructs a Connection over transport and drives it through the
// handshake to StateReady. ShortCircuitBackend in opts is overridden by
// the SHORT_CIRCUIT_BACKEND=1 environment variable if unset by the caller.
func New(ctx context.Context, transport fabric.Transport, authID uint64, opts Options) (*Connection, error) {
	if opts.BufferCount == 0 {
		opts.BufferCount = 16
	}
	if opts.BufferLen == 0 {
		opts.BufferLen = 64 << 10
	}
	if os.Getenv("SHORT_CIRCUIT_BACKEND") == "1" {
		opts.ShortCircuitBackend = true
	}

	bufMgr, err := NewBufferManager(transport, opts.BufferCount, opts.BufferLen)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		transport:     transport,
		bufMgr:        bufMgr,
		authID:        authID,
		maxInjectSize: transport.MaxInjectSize(),
		state:         StateInitialize,
		opts:          opts,
	}

	for c.state != StateReady {
		if _, err := c.Tick(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close issues a clean shutdown (StateReady -> StateShutdown ->
// StateStopped) and releases the connection's buffers.
func (c *Connection) Close(ctx context.Context) error {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()
	if c.state == StateReady {
		c.state = StateShutdown
	}
	for c.state != StateStopped {
		if _, err := c.tickLocked(ctx); err != nil {
			c.bufMgr.Close()
			return err
		}
	}
	c.bufMgr.Close()
	return c.transport.Close()
}

// Tick advances the connection's state machine by exactly one transition
// and returns the resulting state (spec §4.3's table).
func (c *Connection) Tick(ctx context.Context) (State, error) {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()
	return c.tickLocked(ctx)
}

func (c *Connection) tickLocked(ctx context.Context) (State, error) {
	switch c.state {
	case StateInitialize:
		c.state = StateHandshakeSend
		return c.state, nil

	case StateHandshakeSend:
		hs := wire.Handshake{Version: 1, Capabilities: 0}
		buf := hs.Encode(make([]byte, 0, wire.HeaderLen+16))
		if err := c.transport.PostSend(ctx, buf); err != nil {
			return c.state, err
		}
		if err := c.transport.WaitForCompletion(ctx); err != nil {
			return c.state, err
		}
		c.state = StateHandshakeGetResponse
		return c.state, nil

	case StateHandshakeGetResponse:
		recvBuf := make([]byte, wire.HeaderLen+64)
		n, err := c.transport.PostRecv(ctx, recvBuf)
		if err != nil {
			return c.state, err
		}
		h, err := wire.GetHeader(recvBuf[:n])
		if err != nil {
			return c.state, err
		}
		if h.TypeID != wire.TypeHandshakeReply {
			return c.state, &domain.ProtocolError{
				Expected: uint8(wire.TypeHandshakeReply),
				Got:      uint8(h.TypeID),
				Msg:      "expected handshake reply",
			}
		}
		reply, err := wire.DecodeHandshakeReply(recvBuf[:n])
		if err != nil {
			return c.state, err
		}
		c.maxMessageSize = int(reply.MaxMessageSize)
		c.state = StateReady
		return c.state, nil

	case StateReady:
		return c.state, nil

	case StateShutdown:
		cs := wire.CloseSession{ConnectionID: c.authID}
		buf := cs.Encode(make([]byte, 0, wire.HeaderLen+8))
		if err := c.transport.PostSend(ctx, buf); err != nil {
			return c.state, err
		}
		if err := c.transport.WaitForCompletion(ctx); err != nil {
			return c.state, err
		}
		c.state = StateStopped
		return c.state, nil

	case StateStopped:
		return c.state, nil

	default:
		return c.state, &domain.ProtocolError{Msg: "unknown connection state"}
	}
}

// recoverToErrFail is deferred first thing in every public Connection
// operation, so it runs last on the way out: any panic reaching it is
// converted to ErrFail instead of crashing the caller, and everything
// deferred after it (buffer release, in particular) still runs during
// unwind before it fires.
func recoverToErrFail(err *error) {
	if r := recover(); r != nil {
		*err = domain.ErrFail
	}
}

// nextRequestID returns a strictly monotonic id for this connection (spec
// invariant 7). Atomic increment is a belt-and-braces device: apiMu
// already serializes every caller of this method.
func (c *Connection) nextRequestID() uint64 {
	return atomic.AddUint64(&c.requestID, 1)
}

// State returns the connection's current state machine position.
func (c *Connection) State() State { return c.state }

// MaxMessageSize returns the negotiated ceiling cached at handshake.
func (c *Connection) MaxMessageSize() int { return c.maxMessageSize }

// sendRecv posts req, waits for completion, then posts a recv and decodes
// the reply header — the shape shared by every non-direct operation.
func (c *Connection) sendRecv(ctx context.Context, req []byte, respBuf []byte) (wire.Header, []byte, error) {
	if err := c.transport.PostSend(ctx, req); err != nil {
		return wire.Header{}, nil, domain.ErrFail
	}
	if err := c.transport.WaitForCompletion(ctx); err != nil {
		return wire.Header{}, nil, domain.ErrFail
	}
	n, err := c.transport.PostRecv(ctx, respBuf)
	if err != nil {
		return wire.Header{}, nil, domain.ErrFail
	}
	h, err := wire.GetHeader(respBuf[:n])
	if err != nil {
		return wire.Header{}, nil, domain.ErrFail
	}
	return h, respBuf[:n], nil
}
