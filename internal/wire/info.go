package wire

import (
	"encoding/binary"

	"github.com/oriys/fabrickv/internal/domain"
)

// InfoRequest mirrors Message_INFO_request (spec §6): a pool-wide or
// per-key attribute query. Key is only set when Type==AttrFindKey or the
// attribute is scoped to a specific key (e.g. AttrValueLen).
type InfoRequest struct {
	Header Header
	PoolID domain.PoolID
	Type   domain.Attribute
	Offset uint64 // resume offset for AttrFindKey, spec §6
	Key    []byte
}

func (m InfoRequest) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)

	var tmp [8 + 4 + 8]byte
	binary.LittleEndian.PutUint64(tmp[0:8], uint64(m.PoolID))
	binary.LittleEndian.PutUint32(tmp[8:12], uint32(m.Type))
	binary.LittleEndian.PutUint64(tmp[12:20], m.Offset)
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, m.Key)

	h := m.Header
	h.TypeID = TypeInfoRequest
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodeInfoRequest(buf []byte) (InfoRequest, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return InfoRequest{}, err
	}
	const fixedLen = 8 + 4 + 8
	if len(buf) < HeaderLen+fixedLen {
		return InfoRequest{}, errShort("InfoRequest", HeaderLen+fixedLen, len(buf))
	}
	fixed := buf[HeaderLen:]
	m := InfoRequest{
		Header: h,
		PoolID: domain.PoolID(binary.LittleEndian.Uint64(fixed[0:8])),
		Type:   domain.Attribute(binary.LittleEndian.Uint32(fixed[8:12])),
		Offset: binary.LittleEndian.Uint64(fixed[12:20]),
	}
	key, _, err := getBytes(buf, HeaderLen+fixedLen)
	if err != nil {
		return InfoRequest{}, err
	}
	m.Key = key
	return m, nil
}

// InfoResponse mirrors Message_INFO_response (spec §6). Value carries a
// uint64 attribute result (Count, CRC32, PercentUsed, ...) encoded little
// endian in its first 8 bytes; FoundKey and NextOffset are only meaningful
// for an AttrFindKey query.
type InfoResponse struct {
	Header     Header
	Value      uint64
	FoundKey   []byte
	NextOffset uint64
}

func (m InfoResponse) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)

	var tmp [8 + 8]byte
	binary.LittleEndian.PutUint64(tmp[0:8], m.Value)
	binary.LittleEndian.PutUint64(tmp[8:16], m.NextOffset)
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, m.FoundKey)

	h := m.Header
	h.TypeID = TypeInfoResponse
	h.MsgLen = uint32(len(buf))
	PutHeader(buf, h)
	return buf
}

func DecodeInfoResponse(buf []byte) (InfoResponse, error) {
	h, err := GetHeader(buf)
	if err != nil {
		return InfoResponse{}, err
	}
	const fixedLen = 8 + 8
	if len(buf) < HeaderLen+fixedLen {
		return InfoResponse{}, errShort("InfoResponse", HeaderLen+fixedLen, len(buf))
	}
	fixed := buf[HeaderLen:]
	m := InfoResponse{
		Header:     h,
		Value:      binary.LittleEndian.Uint64(fixed[0:8]),
		NextOffset: binary.LittleEndian.Uint64(fixed[8:16]),
	}
	key, _, err := getBytes(buf, HeaderLen+fixedLen)
	if err != nil {
		return InfoResponse{}, err
	}
	m.FoundKey = key
	return m, nil
}
