package fabric

import (
	"context"
	"sync"
)

// Loopback is an in-process, channel-based Transport pairing two
// in-process endpoints without touching the network — used by tests, in
// the style of an in-process test-double client.
type Loopback struct {
	inject int
	maxMsg int

	send chan []byte
	recv chan []byte

	mu     sync.Mutex
	memory map[MemoryDescriptor][]byte
	nextID MemoryDescriptor
}

// NewLoopbackPair returns two Loopback endpoints wired to each other: a's
// sends are b's receives, and vice versa.
func NewLoopbackPair(injectSize, maxMessageSize int) (a, b *Loopback) {
	c1 := make(chan []byte, 8)
	c2 := make(chan []byte, 8)
	a = &Loopback{inject: injectSize, maxMsg: maxMessageSize, send: c1, recv: c2, memory: make(map[MemoryDescriptor][]byte)}
	b = &Loopback{inject: injectSize, maxMsg: maxMessageSize, send: c2, recv: c1, memory: make(map[MemoryDescriptor][]byte)}
	return a, b
}

func (l *Loopback) PostSend(ctx context.Context, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case l.send <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) PostRecv(ctx context.Context, buf []byte) (int, error) {
	select {
	case msg := <-l.recv:
		n := copy(buf, msg)
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *Loopback) WaitForCompletion(ctx context.Context) error { return nil }

func (l *Loopback) RegisterMemory(buf []byte) (MemoryDescriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.memory[l.nextID] = buf
	return l.nextID, nil
}

func (l *Loopback) DeregisterMemory(d MemoryDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.memory, d)
	return nil
}

func (l *Loopback) MaxInjectSize() int  { return l.inject }
func (l *Loopback) MaxMessageSize() int { return l.maxMsg }

func (l *Loopback) Close() error { return nil }
