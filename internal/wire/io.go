package wire

import (
	"encoding/binary"

	"github.com/oriys/fabrickv/internal/domain"
)

// IOOp identifies the operation carried by a Message_IO_request.
type IOOp uint32

const (
	OpPut IOOp = iota + 1
	OpPutAdvance
	OpGet
	OpGetAdvance
	OpErase
	OpConfigure
)

// Reserved header bits carried in IORequest.Resvd (spec §6 resvd column).
const (
	// ResvdSCBE marks a request as short-circuit-backend, for latency-floor
	// benchmarking. It is carried on the wire only: server.Responder does
	// not act on it and serves the request from its pool manager as usual.
	ResvdSCBE uint32 = 1 << 0
	// ResvdDirect marks a two-stage transfer: this message only advances
	// the payload, which follows as a dedicated fabric send/recv rather
	// than being inlined in this buffer.
	ResvdDirect uint32 = 1 << 1
)

// IORequest mirrors Message_IO_request (spec §6). Value is populated for
// inline puts/gets under the inline threshold; for two-stage transfers
// (ResvdDirect set) Value is nil and ValueLen still carries the size so the
// responder can size its payload-stage buffer.
type IORequest struct {
	Header   Header
	Op       IOOp
	PoolID   domain.PoolID
	Resvd    uint32
	Key      []byte
	Value    []byte
	ValueLen uint64
	Flags    domain.Flags
}

func (m IORequest) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)

	var tmp [4 + 8 + 4 + 8 + 4]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(m.Op))
	binary.LittleEndian.PutUint64(tmp[4:12], uint64(m.PoolID))
	binary.LittleEndian.PutUint32(tmp[12:16], m.Resvd)
	binary.LittleEndian.PutUint64(tmp[16:24], m.ValueLen)
	binary.LittleEndian.PutUint32(tmp[24:28], uint32(m.Flags))
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, m.Key)
	buf = putBytes(buf, m.Value)

	h := m.Header
	h.TypeID = TypeIORequest
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodeIORequest(buf []byte) (IORequest, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return IORequest{}, err
	}
	const fixedLen = 4 + 8 + 4 + 8 + 4
	if len(buf) < HeaderLen+fixedLen {
		return IORequest{}, errShort("IORequest", HeaderLen+fixedLen, len(buf))
	}
	fixed := buf[HeaderLen:]
	m := IORequest{
		Header:   h,
		Op:       IOOp(binary.LittleEndian.Uint32(fixed[0:4])),
		PoolID:   domain.PoolID(binary.LittleEndian.Uint64(fixed[4:12])),
		Resvd:    binary.LittleEndian.Uint32(fixed[12:16]),
		ValueLen: binary.LittleEndian.Uint64(fixed[16:24]),
		Flags:    domain.Flags(binary.LittleEndian.Uint32(fixed[24:28])),
	}
	off := HeaderLen + fixedLen
	key, off, err := getBytes(buf, off)
	if err != nil {
		return IORequest{}, err
	}
	value, _, err := getBytes(buf, off)
	if err != nil {
		return IORequest{}, err
	}
	m.Key = key
	m.Value = value
	return m, nil
}

// IsShortCircuit reports whether the short-circuit-backend bit is set.
func (m IORequest) IsShortCircuit() bool { return m.Resvd&ResvdSCBE != 0 }

// IsDirect reports whether this request only advances a two-stage transfer.
func (m IORequest) IsDirect() bool { return m.Resvd&ResvdDirect != 0 }

// IOResponse mirrors Message_IO_response (spec §6). Value and ValueLen are
// both populated on every successful OpGet; for OpGetAdvance only ValueLen
// is set and the value follows as a separate send.
type IOResponse struct {
	Header   Header
	Value    []byte
	ValueLen uint64
}

func (m IOResponse) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], m.ValueLen)
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, m.Value)

	h := m.Header
	h.TypeID = TypeIOResponse
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodeIOResponse(buf []byte) (IOResponse, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return IOResponse{}, err
	}
	if len(buf) < HeaderLen+8 {
		return IOResponse{}, errShort("IOResponse", HeaderLen+8, len(buf))
	}
	m := IOResponse{
		Header:   h,
		ValueLen: binary.LittleEndian.Uint64(buf[HeaderLen : HeaderLen+8]),
	}
	value, _, err := getBytes(buf, HeaderLen+8)
	if err != nil {
		return IOResponse{}, err
	}
	m.Value = value
	return m, nil
}
