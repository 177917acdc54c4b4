package wire

import (
	"encoding/binary"
	"fmt"
)

// Handshake carries the client's protocol version and capability bits
// (spec §6). It is sent unconditionally as the first message on a
// connection and never carries a status (there is no prior request to
// answer).
type Handshake struct {
	Version      uint32
	Capabilities uint64
}

func (m Handshake) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)
	PutHeader(buf, Header{TypeID: TypeHandshake, MsgLen: uint32(HeaderLen + 12)})
	var tmp [12]byte
	binary.LittleEndian.PutUint32(tmp[0:4], m.Version)
	binary.LittleEndian.PutUint64(tmp[4:12], m.Capabilities)
	buf = append(buf, tmp[:]...)
	return buf
}

func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < HeaderLen+12 {
		return Handshake{}, errShort("Handshake", HeaderLen+12, len(buf))
	}
	return Handshake{
		Version:      binary.LittleEndian.Uint32(buf[HeaderLen : HeaderLen+4]),
		Capabilities: binary.LittleEndian.Uint64(buf[HeaderLen+4 : HeaderLen+12]),
	}, nil
}

// HandshakeReply carries the negotiated max_message_size (spec §4.3).
type HandshakeReply struct {
	MaxMessageSize uint64
}

func (m HandshakeReply) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)
	PutHeader(buf, Header{TypeID: TypeHandshakeReply, MsgLen: uint32(HeaderLen + 8)})
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], m.MaxMessageSize)
	buf = append(buf, tmp[:]...)
	return buf
}

func DecodeHandshakeReply(buf []byte) (HandshakeReply, error) {
	if len(buf) < HeaderLen+8 {
		return HandshakeReply{}, errShort("HandshakeReply", HeaderLen+8, len(buf))
	}
	return HandshakeReply{MaxMessageSize: binary.LittleEndian.Uint64(buf[HeaderLen : HeaderLen+8])}, nil
}

// CloseSession ends a connection cleanly (spec §4.3 SHUTDOWN state).
type CloseSession struct {
	ConnectionID uint64
}

func (m CloseSession) Encode(buf []byte) []byte {
	buf = buf[:0]
	buf = append(buf, make([]byte, HeaderLen)...)
	PutHeader(buf, Header{TypeID: TypeCloseSession, MsgLen: uint32(HeaderLen + 8)})
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], m.ConnectionID)
	buf = append(buf, tmp[:]...)
	return buf
}

func DecodeCloseSession(buf []byte) (CloseSession, error) {
	if len(buf) < HeaderLen+8 {
		return CloseSession{}, errShort("CloseSession", HeaderLen+8, len(buf))
	}
	return CloseSession{ConnectionID: binary.LittleEndian.Uint64(buf[HeaderLen : HeaderLen+8])}, nil
}

func errShort(what string, want, got int) error {
	return &shortBufferError{what, want, got}
}

type shortBufferError struct {
	what      string
	want, got int
}

func (e *shortBufferError) Error() string {
	return fmt.Sprintf("%s: short buffer: need %d bytes, have %d", e.what, e.want, e.got)
}
