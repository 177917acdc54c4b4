package client

import (
	"golang.org/x/sys/unix"
)

// tempBuffer is an anonymous, page-aligned, hugepage-advised scratch
// buffer used by the on-demand registration path in plain Get, standing
// in for the source's aligned_alloc+madvise temp buffer
// (original_source/.../connection.cpp lines 585-600). It is the only
// place in internal/client that crosses into raw OS memory rather than a
// BufferManager-owned slice.
type tempBuffer struct {
	data []byte
}

func newTempBuffer(size int) (*tempBuffer, error) {
	if size < unix.Getpagesize() {
		size = unix.Getpagesize()
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(data, unix.MADV_HUGEPAGE)
	return &tempBuffer{data: data}, nil
}

func (t *tempBuffer) release() error {
	return unix.Munmap(t.data)
}
