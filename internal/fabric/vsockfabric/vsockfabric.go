// Package vsockfabric implements fabric.Transport over github.com/mdlayher/vsock,
// an actual mdlayher/vsock-backed net.Conn. Framing follows a 4-byte
// big-endian length-prefix pattern, generalized from protobuf payloads to
// raw internal/wire byte buffers.
package vsockfabric

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/oriys/fabrickv/internal/fabric"
)

const lengthPrefixBytes = 4

// Transport wraps a vsock net.Conn with 4-byte-big-endian length-prefix
// framing. Registration has no hardware counterpart over vsock: it is pure
// bookkeeping so the magic-cookie discipline in internal/client still has
// something to register against.
type Transport struct {
	conn        net.Conn
	injectSize  int
	maxMsgBytes int

	mu     sync.Mutex
	memory map[fabric.MemoryDescriptor][]byte
	nextID fabric.MemoryDescriptor
}

// Dial connects to a vsock (cid, port) pair, standing in for a connection
// to a remote pool server.
func Dial(ctx context.Context, cid, port uint32, maxMessageBytes, injectSize int) (*Transport, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsockfabric: dial: %w", err)
	}
	return newTransport(conn, maxMessageBytes, injectSize), nil
}

// Listen opens a vsock listener on port, for a daemon accepting client
// connections.
func Listen(port uint32) (*vsock.Listener, error) {
	l, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsockfabric: listen: %w", err)
	}
	return l, nil
}

// Accept wraps an already-accepted vsock connection as a Transport.
func Accept(conn net.Conn, maxMessageBytes, injectSize int) *Transport {
	return newTransport(conn, maxMessageBytes, injectSize)
}

func newTransport(conn net.Conn, maxMessageBytes, injectSize int) *Transport {
	return &Transport{
		conn:        conn,
		injectSize:  injectSize,
		maxMsgBytes: maxMessageBytes,
		memory:      make(map[fabric.MemoryDescriptor][]byte),
	}
}

func (t *Transport) PostSend(ctx context.Context, buf []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	frame := make([]byte, lengthPrefixBytes+len(buf))
	binary.BigEndian.PutUint32(frame[:lengthPrefixBytes], uint32(len(buf)))
	copy(frame[lengthPrefixBytes:], buf)
	_, err := t.conn.Write(frame)
	return err
}

func (t *Transport) PostRecv(ctx context.Context, buf []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(dl)
		defer t.conn.SetReadDeadline(time.Time{})
	}
	lenBuf := make([]byte, lengthPrefixBytes)
	if _, err := io.ReadFull(t.conn, lenBuf); err != nil {
		return 0, err
	}
	msgLen := binary.BigEndian.Uint32(lenBuf)
	if int(msgLen) > t.maxMsgBytes {
		return 0, fmt.Errorf("vsockfabric: message of %d bytes exceeds max_message_size %d", msgLen, t.maxMsgBytes)
	}
	if int(msgLen) > len(buf) {
		return 0, fmt.Errorf("vsockfabric: message of %d bytes exceeds caller buffer of %d", msgLen, len(buf))
	}
	if _, err := io.ReadFull(t.conn, buf[:msgLen]); err != nil {
		return 0, err
	}
	return int(msgLen), nil
}

func (t *Transport) WaitForCompletion(ctx context.Context) error { return nil }

func (t *Transport) RegisterMemory(buf []byte) (fabric.MemoryDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.memory[t.nextID] = buf
	return t.nextID, nil
}

func (t *Transport) DeregisterMemory(d fabric.MemoryDescriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.memory, d)
	return nil
}

func (t *Transport) MaxInjectSize() int  { return t.injectSize }
func (t *Transport) MaxMessageSize() int { return t.maxMsgBytes }

func (t *Transport) Close() error { return t.conn.Close() }
