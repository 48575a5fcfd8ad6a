package wire

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"

	"github.com/agoracyber/dimsp-go/internal/types"
)

func mustHash(t *testing.T, seed byte) types.Hash32 {
	t.Helper()
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	h, err := types.NewHash32FromBytes(b[:])
	if err != nil {
		t.Fatalf("NewHash32FromBytes: %v", err)
	}
	return h
}

func roundTrip(t *testing.T, msg *SyncMessage) *SyncMessage {
	t.Helper()
	enc, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return dec
}

func TestCodec_OpenWriteStreamRoundTrip(t *testing.T) {
	h0 := mustHash(t, 0xAA)
	h1 := mustHash(t, 0xBB)
	msg := &SyncMessage{
		ID:   1,
		Type: TypeOpenWriteStream,
		Payload: OpenWriteStream{
			Length:         11,
			To:             100,
			FragmentHashes: []types.Hash32{h0, h1},
		},
	}
	dec := roundTrip(t, msg)
	if dec.ID != msg.ID || dec.Type != msg.Type {
		t.Fatalf("envelope mismatch: got %+v", dec)
	}
	got, ok := dec.Payload.(OpenWriteStream)
	if !ok {
		t.Fatalf("payload type: got %T", dec.Payload)
	}
	want := msg.Payload.(OpenWriteStream)
	if got.Length != want.Length || got.To != want.To {
		t.Fatalf("scalar mismatch: got %+v want %+v", got, want)
	}
	if !reflect.DeepEqual(got.FragmentHashes, want.FragmentHashes) {
		t.Fatalf("fragment hashes mismatch: got %v want %v", got.FragmentHashes, want.FragmentHashes)
	}
}

func TestCodec_OpenWriteStreamAckAccept(t *testing.T) {
	msg := &SyncMessage{
		ID:   1,
		Type: TypeOpenWriteStreamAck,
		Payload: OpenWriteStreamAck{
			AckType:      OpenWriteAccept,
			StreamHandle: 42,
			HasHandle:    true,
			NextFragment: 0,
		},
	}
	dec := roundTrip(t, msg)
	got := dec.Payload.(OpenWriteStreamAck)
	if !got.HasHandle || got.StreamHandle != 42 {
		t.Fatalf("handle mismatch: %+v", got)
	}
}

func TestCodec_OpenWriteStreamAckNoneedHasNoHandle(t *testing.T) {
	msg := &SyncMessage{
		ID:   1,
		Type: TypeOpenWriteStreamAck,
		Payload: OpenWriteStreamAck{
			AckType:      OpenWriteNoneed,
			NextFragment: 3,
		},
	}
	dec := roundTrip(t, msg)
	got := dec.Payload.(OpenWriteStreamAck)
	if got.HasHandle {
		t.Fatalf("expected no handle on Noneed ack, got %+v", got)
	}
	if got.NextFragment != 3 {
		t.Fatalf("next_fragment mismatch: got %d", got.NextFragment)
	}
}

func TestCodec_WriteFragmentRoundTrip(t *testing.T) {
	msg := &SyncMessage{
		ID:   2,
		Type: TypeWriteFragment,
		Payload: WriteFragment{
			StreamHandle: 7,
			Offset:       1,
			Content:      []byte("Hell"),
		},
	}
	dec := roundTrip(t, msg)
	got := dec.Payload.(WriteFragment)
	if got.StreamHandle != 7 || got.Offset != 1 || !bytes.Equal(got.Content, []byte("Hell")) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestCodec_EmptyPayloads(t *testing.T) {
	for _, typ := range []MessageType{TypeOpenInbox, TypeOpenNextInboxStream} {
		enc, err := Encode(&SyncMessage{ID: 9, Type: typ, Payload: nil})
		if err != nil {
			t.Fatalf("Encode(%s): %v", typ, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%s): %v", typ, err)
		}
		if dec.Type != typ || dec.ID != 9 {
			t.Fatalf("envelope mismatch for %s: %+v", typ, dec)
		}
	}
}

func TestCodec_CloseInboxStreamMarkAsRead(t *testing.T) {
	for _, mark := range []bool{true, false} {
		msg := &SyncMessage{
			ID:   5,
			Type: TypeCloseInboxStream,
			Payload: CloseInboxStream{
				StreamHandle: 3,
				MarkAsRead:   mark,
			},
		}
		dec := roundTrip(t, msg)
		got := dec.Payload.(CloseInboxStream)
		if got.MarkAsRead != mark {
			t.Fatalf("mark_as_read mismatch: got %v want %v", got.MarkAsRead, mark)
		}
	}
}

func TestCodec_Hash32RoundTrip(t *testing.T) {
	for seed := 0; seed < 8; seed++ {
		var b [32]byte
		for i := range b {
			b[i] = byte(seed*31 + i)
		}
		h, err := types.NewHash32FromBytes(b[:])
		if err != nil {
			t.Fatalf("NewHash32FromBytes: %v", err)
		}
		back := h.Bytes()
		if !bytes.Equal(back[:], b[:]) {
			t.Fatalf("hash32 round trip mismatch at seed %d", seed)
		}
	}
}

func TestFraming_ReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	msgs := []*SyncMessage{
		{ID: 1, Type: TypeOpenInbox, Payload: OpenInbox{}},
		{ID: 2, Type: TypeWriteFragment, Payload: WriteFragment{StreamHandle: 1, Offset: 0, Content: []byte("abc")}},
		{ID: 3, Type: TypeCloseWriteStream, Payload: CloseWriteStream{StreamHandle: 1}},
	}
	for _, m := range msgs {
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for _, want := range msgs {
		got, err := ReadMessage(r)
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if got.ID != want.ID || got.Type != want.Type {
			t.Fatalf("frame mismatch: got %+v want %+v", got, want)
		}
	}
}
