package wire

import (
	"encoding/binary"
	"fmt"
)

// putBytes appends a u32 length prefix followed by b to dst.
func putBytes(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

// getBytes reads a u32-length-prefixed byte slice from buf starting at off,
// returning the slice (aliasing buf) and the offset immediately after it.
func getBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, 0, fmt.Errorf("wire: short buffer for length prefix at %d", off)
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return nil, 0, fmt.Errorf("wire: length prefix %d overruns buffer (off=%d, len=%d)", n, off, len(buf))
	}
	return buf[off : off+n], off + n, nil
}
