// Package fabric abstracts the reliable, message-oriented, zero-copy
// transport a connection rides on (spec §1, §4.3). Real RDMA registration
// has no vsock equivalent, so implementations that don't offer it still
// satisfy RegisterMemory/DeregisterMemory as ownership bookkeeping —
// callers rely on the magic-cookie discipline in internal/client, not on
// the fabric to reject use of unregistered memory.
package fabric

import "context"

// MemoryDescriptor identifies memory registered with a Transport, opaque
// to callers beyond passing it back to DeregisterMemory.
type MemoryDescriptor uint64

// Transport is the fabric contract a Connection and a server Responder
// both ride on.
type Transport interface {
	// PostSend copies buf out synchronously (an "inject") when len(buf)
	// is within MaxInjectSize, or queues it for async completion
	// otherwise; either way the caller learns which via WaitForCompletion.
	PostSend(ctx context.Context, buf []byte) error
	// PostRecv posts buf to receive the next inbound message, blocking
	// until one arrives or ctx is done. The number of bytes written into
	// buf is returned.
	PostRecv(ctx context.Context, buf []byte) (int, error)
	// WaitForCompletion blocks until the most recent PostSend is known to
	// have landed. Implementations that send synchronously may return
	// immediately.
	WaitForCompletion(ctx context.Context) error
	// RegisterMemory records ownership of buf for later PostSend/PostRecv
	// targeting, returning an opaque descriptor.
	RegisterMemory(buf []byte) (MemoryDescriptor, error)
	// DeregisterMemory releases a descriptor from RegisterMemory.
	DeregisterMemory(d MemoryDescriptor) error
	// MaxInjectSize is the largest payload PostSend will copy inline.
	MaxInjectSize() int
	// MaxMessageSize is the largest payload this transport will ever
	// carry in one PostSend/PostRecv, inject or not.
	MaxMessageSize() int
	// Close releases the transport's underlying connection.
	Close() error
}
