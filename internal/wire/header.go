// Package wire defines the fixed-layout message family exchanged between a
// client connection and its server responder (spec §6). Every message
// starts with Header and is serialized with encoding/binary into a plain
// byte slice rather than placement-constructed in shared memory, so the
// layout is inspectable and fuzzable independent of any fabric transport.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Type identifies a message's wire type (spec §6 type_id column).
type Type uint8

const (
	TypeHandshake Type = iota + 1
	TypeHandshakeReply
	TypeCloseSession
	TypePoolRequest
	TypePoolResponse
	TypeIORequest
	TypeIOResponse
	TypeInfoRequest
	TypeInfoResponse
)

func (t Type) String() string {
	switch t {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeHandshakeReply:
		return "HANDSHAKE_REPLY"
	case TypeCloseSession:
		return "CLOSE_SESSION"
	case TypePoolRequest:
		return "POOL_REQUEST"
	case TypePoolResponse:
		return "POOL_RESPONSE"
	case TypeIORequest:
		return "IO_REQUEST"
	case TypeIOResponse:
		return "IO_RESPONSE"
	case TypeInfoRequest:
		return "INFO_REQUEST"
	case TypeInfoResponse:
		return "INFO_RESPONSE"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// HeaderLen is the fixed, on-wire size of Header in bytes:
// type_id(1) + pad(3) + msg_len(4) + auth_id(8) + request_id(8) + status(4).
const HeaderLen = 1 + 3 + 4 + 8 + 8 + 4

// Header is the fixed prefix shared by every message (spec §3, §6).
type Header struct {
	TypeID    Type
	MsgLen    uint32
	AuthID    uint64
	RequestID uint64
	Status    int32
}

// PutHeader encodes h into the first HeaderLen bytes of buf. buf must be at
// least HeaderLen bytes.
func PutHeader(buf []byte, h Header) {
	_ = buf[HeaderLen-1]
	buf[0] = byte(h.TypeID)
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[4:8], h.MsgLen)
	binary.LittleEndian.PutUint64(buf[8:16], h.AuthID)
	binary.LittleEndian.PutUint64(buf[16:24], h.RequestID)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.Status))
}

// GetHeader decodes the first HeaderLen bytes of buf into a Header.
func GetHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("wire: short buffer for header: %d < %d", len(buf), HeaderLen)
	}
	return Header{
		TypeID:    Type(buf[0]),
		MsgLen:    binary.LittleEndian.Uint32(buf[4:8]),
		AuthID:    binary.LittleEndian.Uint64(buf[8:16]),
		RequestID: binary.LittleEndian.Uint64(buf[16:24]),
		Status:    int32(binary.LittleEndian.Uint32(buf[24:28])),
	}, nil
}
