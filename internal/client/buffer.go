package client

import (
	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/fabric"
)

// bufferMagic marks a Buffer as registered with the transport; it is
// cleared on deregistration (Close, DeregisterCallerMemory) so a stale
// reference used after that is caught. FreeBuffer leaves it set.
const bufferMagic uint32 = 0xB0FFE7CA

// Buffer is one fixed-size, connection-owned request/response buffer.
// BufferManager hands these out for the duration of a single API call.
type Buffer struct {
	data   []byte
	magic  uint32
	handle domain.MemoryHandle
	mgr    *BufferManager
}

// Bytes returns the buffer's backing storage, valid only while the magic
// cookie is set (i.e. from registration until Close/DeregisterCallerMemory).
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) verify() error {
	if b == nil || b.magic != bufferMagic {
		return domain.ErrBadParam
	}
	return nil
}

// BufferManager owns a fixed-cardinality pool of pre-sized, registered
// buffers, handed out through a buffered channel — the idiomatic Go
// "bounded resource handoff" primitive, also used elsewhere in this tree
// for bounded queues (e.g. internal/metrics's tsChan).
type BufferManager struct {
	transport fabric.Transport
	free      chan *Buffer
	all       []*Buffer
}

// NewBufferManager preallocates count buffers of bufLen bytes each,
// registering every one with transport up front.
func NewBufferManager(transport fabric.Transport, count, bufLen int) (*BufferManager, error) {
	m := &BufferManager{transport: transport, free: make(chan *Buffer, count)}
	for i := 0; i < count; i++ {
		buf := &Buffer{data: make([]byte, bufLen), mgr: m}
		h, err := transport.RegisterMemory(buf.data)
		if err != nil {
			return nil, err
		}
		buf.handle = domain.MemoryHandle(h)
		buf.magic = bufferMagic
		m.all = append(m.all, buf)
		m.free <- buf
	}
	return m, nil
}

// Allocate blocks until a buffer is available.
func (m *BufferManager) Allocate() *Buffer {
	return <-m.free
}

// FreeBuffer returns buf to the pool. Safe to call exactly once per
// Allocate; a nil buffer or one this manager did not allocate panics, since
// that indicates a programming error in the caller's own request lifecycle,
// not a runtime condition callers should recover from. A second free of
// the same buffer is not detected.
func (m *BufferManager) FreeBuffer(buf *Buffer) {
	if buf == nil || buf.mgr != m {
		panic("client: FreeBuffer on a buffer this manager did not allocate")
	}
	m.free <- buf
}

// Close deregisters every buffer and releases the pool. Call once the
// owning connection is torn down.
func (m *BufferManager) Close() {
	for _, buf := range m.all {
		buf.magic = 0
		m.transport.DeregisterMemory(fabric.MemoryDescriptor(buf.handle))
	}
}

// RegisterCallerMemory registers caller-provided memory (for PutDirect/
// GetDirect) and wraps it as a Buffer outside the fixed pool — freeing it
// deregisters rather than returning it to the pool's channel.
func (m *BufferManager) RegisterCallerMemory(data []byte) (*Buffer, error) {
	h, err := m.transport.RegisterMemory(data)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data, magic: bufferMagic, handle: domain.MemoryHandle(h), mgr: nil}, nil
}

// DeregisterCallerMemory releases a Buffer obtained from
// RegisterCallerMemory.
func (m *BufferManager) DeregisterCallerMemory(buf *Buffer) error {
	buf.magic = 0
	return m.transport.DeregisterMemory(fabric.MemoryDescriptor(buf.handle))
}
