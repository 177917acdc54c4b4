package wire

import (
	"encoding/binary"

	"github.com/oriys/fabrickv/internal/domain"
)

// PoolOp identifies the operation carried by a Message_pool_request.
type PoolOp uint32

const (
	OpCreate PoolOp = iota + 1
	OpOpen
	OpClose
	OpDelete
)

// PoolRequest mirrors Message_pool_request (spec §6): op plus
// size/flags/expected_object_count and an optional pool name.
type PoolRequest struct {
	Header              Header
	Op                   PoolOp
	Size                 uint64
	Flags                domain.Flags
	ExpectedObjectCount  uint64
	PoolID               domain.PoolID // valid for OpClose
	Name                 string        // valid for OpCreate/OpOpen/OpDelete
}

func (m PoolRequest) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)

	var tmp [4 + 8 + 4 + 8 + 8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(m.Op))
	binary.LittleEndian.PutUint64(tmp[4:12], m.Size)
	binary.LittleEndian.PutUint32(tmp[12:16], uint32(m.Flags))
	binary.LittleEndian.PutUint64(tmp[16:24], m.ExpectedObjectCount)
	binary.LittleEndian.PutUint64(tmp[24:32], uint64(m.PoolID))
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, []byte(m.Name))

	h := m.Header
	h.TypeID = TypePoolRequest
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodePoolRequest(buf []byte) (PoolRequest, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return PoolRequest{}, err
	}
	if len(buf) < HeaderLen+32 {
		return PoolRequest{}, errShort("PoolRequest", HeaderLen+32, len(buf))
	}
	fixed := buf[HeaderLen:]
	m := PoolRequest{
		Header:              h,
		Op:                  PoolOp(binary.LittleEndian.Uint32(fixed[0:4])),
		Size:                binary.LittleEndian.Uint64(fixed[4:12]),
		Flags:               domain.Flags(binary.LittleEndian.Uint32(fixed[12:16])),
		ExpectedObjectCount: binary.LittleEndian.Uint64(fixed[16:24]),
		PoolID:              domain.PoolID(binary.LittleEndian.Uint64(fixed[24:32])),
	}
	name, _, err := getBytes(buf, HeaderLen+32)
	if err != nil {
		return PoolRequest{}, err
	}
	m.Name = string(name)
	return m, nil
}

// PoolResponse mirrors Message_pool_response (spec §6).
type PoolResponse struct {
	Header Header
	PoolID domain.PoolID
}

func (m PoolResponse) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(m.PoolID))
	buf = append(buf, tmp[:]...)

	h := m.Header
	h.TypeID = TypePoolResponse
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodePoolResponse(buf []byte) (PoolResponse, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return PoolResponse{}, err
	}
	if len(buf) < HeaderLen+8 {
		return PoolResponse{}, errShort("PoolResponse", HeaderLen+8, len(buf))
	}
	return PoolResponse{
		Header: h,
		PoolID: domain.PoolID(binary.LittleEndian.Uint64(buf[HeaderLen : HeaderLen+8])),
	}, nil
}
