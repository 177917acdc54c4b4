package wire

import (
	"bytes"
	"testing"

	"github.com/oriys/fabrickv/internal/domain"
)

func TestHandshakeRoundTrip(t *testing.T) {
	want := Handshake{Version: 3, Capabilities: 0xdeadbeef}
	buf := want.Encode(nil)
	got, err := DecodeHandshake(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	h, err := GetHeader(buf)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.TypeID != TypeHandshake {
		t.Fatalf("type_id = %v, want %v", h.TypeID, TypeHandshake)
	}
	if int(h.MsgLen) != len(buf) {
		t.Fatalf("msg_len = %d, want %d", h.MsgLen, len(buf))
	}
}

func TestHandshakeReplyRoundTrip(t *testing.T) {
	want := HandshakeReply{MaxMessageSize: 1 << 20}
	buf := want.Encode(nil)
	got, err := DecodeHandshakeReply(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCloseSessionRoundTrip(t *testing.T) {
	want := CloseSession{ConnectionID: 42}
	buf := want.Encode(nil)
	got, err := DecodeCloseSession(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPoolRequestRoundTrip(t *testing.T) {
	want := PoolRequest{
		Op:                  OpCreate,
		Size:                4096,
		Flags:               domain.FlagCreate,
		ExpectedObjectCount: 1000,
		PoolID:              domain.PoolError,
		Name:                "my-pool",
	}
	buf := want.Encode(nil)
	got, err := DecodePoolRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != want.Op || got.Size != want.Size || got.Flags != want.Flags ||
		got.ExpectedObjectCount != want.ExpectedObjectCount || got.PoolID != want.PoolID ||
		got.Name != want.Name {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPoolRequestEmptyName(t *testing.T) {
	want := PoolRequest{Op: OpClose, PoolID: domain.PoolID(7)}
	buf := want.Encode(nil)
	got, err := DecodePoolRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "" {
		t.Fatalf("got Name=%q, want empty", got.Name)
	}
	if got.PoolID != domain.PoolID(7) {
		t.Fatalf("got PoolID=%d, want 7", got.PoolID)
	}
}

func TestPoolResponseRoundTrip(t *testing.T) {
	want := PoolResponse{PoolID: domain.PoolID(99)}
	buf := want.Encode(nil)
	got, err := DecodePoolResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PoolID != want.PoolID || got.Header.TypeID != TypePoolResponse || int(got.Header.MsgLen) != len(buf) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIORequestInlineRoundTrip(t *testing.T) {
	want := IORequest{
		Op:       OpPut,
		PoolID:   domain.PoolID(5),
		Resvd:    0,
		Key:      []byte("hello"),
		Value:    []byte("world"),
		ValueLen: 5,
		Flags:    domain.FlagReplace,
	}
	buf := want.Encode(nil)
	got, err := DecodeIORequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != want.Op || got.PoolID != want.PoolID || got.Resvd != want.Resvd ||
		!bytes.Equal(got.Key, want.Key) || !bytes.Equal(got.Value, want.Value) ||
		got.ValueLen != want.ValueLen || got.Flags != want.Flags {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.IsDirect() || got.IsShortCircuit() {
		t.Fatalf("unexpected resvd bits set")
	}
}

func TestIORequestDirectNoValue(t *testing.T) {
	want := IORequest{
		Op:       OpPutAdvance,
		PoolID:   domain.PoolID(5),
		Resvd:    ResvdDirect,
		Key:      []byte("big-key"),
		Value:    nil,
		ValueLen: 1 << 24,
	}
	buf := want.Encode(nil)
	got, err := DecodeIORequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsDirect() {
		t.Fatalf("expected direct bit set")
	}
	if len(got.Value) != 0 {
		t.Fatalf("expected no inline value, got %d bytes", len(got.Value))
	}
	if got.ValueLen != want.ValueLen {
		t.Fatalf("got ValueLen=%d, want %d", got.ValueLen, want.ValueLen)
	}
}

func TestIORequestShortCircuitBit(t *testing.T) {
	want := IORequest{Op: OpGet, PoolID: domain.PoolID(1), Resvd: ResvdSCBE, Key: []byte("k")}
	buf := want.Encode(nil)
	got, err := DecodeIORequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsShortCircuit() {
		t.Fatalf("expected short-circuit bit set")
	}
}

func TestIOResponseRoundTrip(t *testing.T) {
	want := IOResponse{Value: []byte("payload"), ValueLen: 7}
	buf := want.Encode(nil)
	got, err := DecodeIOResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Value, want.Value) || got.ValueLen != want.ValueLen {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInfoRequestRoundTrip(t *testing.T) {
	want := InfoRequest{
		PoolID: domain.PoolID(3),
		Type:   domain.AttrCount,
		Offset: 0,
		Key:    nil,
	}
	buf := want.Encode(nil)
	got, err := DecodeInfoRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PoolID != want.PoolID || got.Type != want.Type || got.Offset != want.Offset {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInfoRequestFindKey(t *testing.T) {
	want := InfoRequest{
		PoolID: domain.PoolID(3),
		Type:   domain.AttrFindKey,
		Offset: 128,
		Key:    []byte("prefix*"),
	}
	buf := want.Encode(nil)
	got, err := DecodeInfoRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != domain.AttrFindKey || got.Offset != 128 || !bytes.Equal(got.Key, want.Key) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInfoResponseRoundTrip(t *testing.T) {
	want := InfoResponse{Value: 42, FoundKey: []byte("next-key"), NextOffset: 256}
	buf := want.Encode(nil)
	got, err := DecodeInfoResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Value != want.Value || got.NextOffset != want.NextOffset || !bytes.Equal(got.FoundKey, want.FoundKey) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeShortBufferErrors(t *testing.T) {
	cases := []struct {
		name string
		fn   func([]byte) error
	}{
		{"Handshake", func(b []byte) error { _, err := DecodeHandshake(b); return err }},
		{"HandshakeReply", func(b []byte) error { _, err := DecodeHandshakeReply(b); return err }},
		{"CloseSession", func(b []byte) error { _, err := DecodeCloseSession(b); return err }},
		{"PoolRequest", func(b []byte) error { _, err := DecodePoolRequest(b); return err }},
		{"PoolResponse", func(b []byte) error { _, err := DecodePoolResponse(b); return err }},
		{"IORequest", func(b []byte) error { _, err := DecodeIORequest(b); return err }},
		{"IOResponse", func(b []byte) error { _, err := DecodeIOResponse(b); return err }},
		{"InfoRequest", func(b []byte) error { _, err := DecodeInfoRequest(b); return err }},
		{"InfoResponse", func(b []byte) error { _, err := DecodeInfoResponse(b); return err }},
	}
	short := make([]byte, HeaderLen-1)
	for _, c := range cases {
		if err := c.fn(short); err == nil {
			t.Errorf("%s: expected error on short buffer, got nil", c.name)
		}
	}
}
