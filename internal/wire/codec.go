package wire

import (
	"fmt"

	"github.com/agoracyber/dimsp-go/internal/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers.
const (
	fieldEnvelopeID      protowire.Number = 1
	fieldEnvelopeType    protowire.Number = 2
	fieldEnvelopePayload protowire.Number = 3
)

// Encode serializes a SyncMessage into its protobuf-wire-compatible form:
// an envelope of {id, type, payload}, where payload is itself an embedded
// message whose field layout depends on Type.
func Encode(msg *SyncMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("wire: cannot encode nil message")
	}
	payload, err := encodePayload(msg.Type, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s payload: %w", msg.Type, err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldEnvelopeID, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.ID)
	b = protowire.AppendTag(b, fieldEnvelopeType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	b = protowire.AppendTag(b, fieldEnvelopePayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b, nil
}

// Decode parses a SyncMessage previously produced by Encode.
func Decode(data []byte) (*SyncMessage, error) {
	var id uint64
	var haveID, haveType bool
	var msgType MessageType
	var payload []byte

	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldEnvelopeID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed id field: %w", protowire.ParseError(n))
			}
			id, haveID = v, true
			data = data[n:]
		case fieldEnvelopeType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed type field: %w", protowire.ParseError(n))
			}
			msgType, haveType = MessageType(v), true
			data = data[n:]
		case fieldEnvelopePayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed payload field: %w", protowire.ParseError(n))
			}
			payload = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !haveID || !haveType {
		return nil, fmt.Errorf("wire: envelope missing id or type")
	}

	p, err := decodePayload(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("wire: decoding %s payload: %w", msgType, err)
	}

	return &SyncMessage{ID: id, Type: msgType, Payload: p}, nil
}

// --- payload field numbers (scoped per nested message, reused loosely
// across kinds for readability: 1=stream_handle, 2=offset, 3=content,
// 4=length, 5=fragment_hashes(repeated), 6=inline_stream, 7=to,
// 8=ack_type, 9=sync_error, 10=next_fragment, 11=unread,
// 12=total_length, 13=open_read_type, 14=mark_as_read) ---

const (
	fStreamHandle   protowire.Number = 1
	fOffset         protowire.Number = 2
	fContent        protowire.Number = 3
	fLength         protowire.Number = 4
	fFragmentHashes protowire.Number = 5
	fInlineStream   protowire.Number = 6
	fTo             protowire.Number = 7
	fAckType        protowire.Number = 8
	fSyncError      protowire.Number = 9
	fNextFragment   protowire.Number = 10
	fUnread         protowire.Number = 11
	fTotalLength    protowire.Number = 12
	fOpenReadType   protowire.Number = 13
	fMarkAsRead     protowire.Number = 14
)

func appendHash(b []byte, num protowire.Number, h types.Hash32) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, h.Slice())
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func encodePayload(t MessageType, payload any) ([]byte, error) {
	switch t {
	case TypeOpenWriteStream:
		p, ok := payload.(OpenWriteStream)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want OpenWriteStream, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fLength, p.Length)
		b = appendVarintField(b, fTo, p.To)
		b = appendVarintField(b, fOffset, p.Offset)
		for _, h := range p.FragmentHashes {
			b = appendHash(b, fFragmentHashes, h)
		}
		if p.InlineStream != nil {
			b = appendBytesField(b, fInlineStream, p.InlineStream)
		}
		return b, nil

	case TypeOpenWriteStreamAck:
		p, ok := payload.(OpenWriteStreamAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want OpenWriteStreamAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fAckType, uint64(p.AckType))
		b = appendVarintField(b, fSyncError, uint64(p.SyncError))
		if p.HasHandle {
			b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		}
		b = appendVarintField(b, fNextFragment, p.NextFragment)
		return b, nil

	case TypeWriteFragment:
		p, ok := payload.(WriteFragment)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want WriteFragment, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		b = appendVarintField(b, fOffset, p.Offset)
		b = appendBytesField(b, fContent, p.Content)
		return b, nil

	case TypeWriteFragmentAck:
		p, ok := payload.(WriteFragmentAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want WriteFragmentAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fAckType, uint64(p.AckType))
		b = appendVarintField(b, fSyncError, uint64(p.SyncError))
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		b = appendVarintField(b, fOffset, p.Offset)
		return b, nil

	case TypeCloseWriteStream:
		p, ok := payload.(CloseWriteStream)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want CloseWriteStream, got %T", payload)
		}
		return appendVarintField(nil, fStreamHandle, p.StreamHandle), nil

	case TypeCloseWriteStreamAck:
		p, ok := payload.(CloseWriteStreamAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want CloseWriteStreamAck, got %T", payload)
		}
		return appendVarintField(nil, fSyncError, uint64(p.SyncError)), nil

	case TypeOpenInbox:
		return nil, nil

	case TypeOpenInboxAck:
		p, ok := payload.(OpenInboxAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want OpenInboxAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fUnread, p.Unread)
		b = appendVarintField(b, fTotalLength, p.TotalLength)
		return b, nil

	case TypeOpenNextInboxStream:
		return nil, nil

	case TypeOpenNextInboxStreamAck:
		p, ok := payload.(OpenNextInboxStreamAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want OpenNextInboxStreamAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fOpenReadType, uint64(p.Type))
		if p.Type == OpenReadAccept {
			b = appendVarintField(b, fStreamHandle, p.StreamHandle)
			b = appendVarintField(b, fLength, p.Length)
			for _, h := range p.FragmentHashes {
				b = appendHash(b, fFragmentHashes, h)
			}
		}
		return b, nil

	case TypeReadFragment:
		p, ok := payload.(ReadFragment)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want ReadFragment, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		b = appendVarintField(b, fOffset, p.Offset)
		return b, nil

	case TypeReadFragmentAck:
		p, ok := payload.(ReadFragmentAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want ReadFragmentAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fAckType, uint64(p.AckType))
		b = appendVarintField(b, fSyncError, uint64(p.SyncError))
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		b = appendVarintField(b, fOffset, p.Offset)
		if p.Content != nil {
			b = appendBytesField(b, fContent, p.Content)
		}
		return b, nil

	case TypeCloseInboxStream:
		p, ok := payload.(CloseInboxStream)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want CloseInboxStream, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		if p.MarkAsRead {
			b = appendVarintField(b, fMarkAsRead, 1)
		}
		return b, nil

	case TypeCloseInboxStreamAck:
		p, ok := payload.(CloseInboxStreamAck)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: want CloseInboxStreamAck, got %T", payload)
		}
		var b []byte
		b = appendVarintField(b, fStreamHandle, p.StreamHandle)
		b = appendVarintField(b, fSyncError, uint64(p.SyncError))
		return b, nil

	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}
}

// walkFields walks a nested payload message generically, dispatching
// scalar/bytes fields to the supplied callback. Unknown fields are
// skipped, matching protobuf's forward-compatibility rule.
func walkFields(data []byte, onVarint func(protowire.Number, uint64), onBytes func(protowire.Number, []byte)) error {
	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch wireType {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("malformed varint field %d: %w", num, protowire.ParseError(n))
			}
			if onVarint != nil {
				onVarint(num, v)
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("malformed bytes field %d: %w", num, protowire.ParseError(n))
			}
			if onBytes != nil {
				onBytes(num, v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func decodeHash(b []byte) (types.Hash32, error) {
	return types.NewHash32FromBytes(b)
}

func decodePayload(t MessageType, data []byte) (any, error) {
	switch t {
	case TypeOpenWriteStream:
		p := &OpenWriteStream{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fLength:
					p.Length = v
				case fTo:
					p.To = v
				case fOffset:
					p.Offset = v
				}
			},
			func(num protowire.Number, v []byte) {
				switch num {
				case fFragmentHashes:
					if h, err := decodeHash(v); err == nil {
						p.FragmentHashes = append(p.FragmentHashes, h)
					}
				case fInlineStream:
					p.InlineStream = append([]byte(nil), v...)
				}
			})
		return *p, err

	case TypeOpenWriteStreamAck:
		p := &OpenWriteStreamAck{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fAckType:
					p.AckType = OpenWriteAckType(v)
				case fSyncError:
					p.SyncError = SyncError(v)
				case fStreamHandle:
					p.StreamHandle, p.HasHandle = v, true
				case fNextFragment:
					p.NextFragment = v
				}
			}, nil)
		return *p, err

	case TypeWriteFragment:
		p := &WriteFragment{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fStreamHandle:
					p.StreamHandle = v
				case fOffset:
					p.Offset = v
				}
			},
			func(num protowire.Number, v []byte) {
				if num == fContent {
					p.Content = append([]byte(nil), v...)
				}
			})
		return *p, err

	case TypeWriteFragmentAck:
		p := &WriteFragmentAck{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fAckType:
					p.AckType = FragmentAckType(v)
				case fSyncError:
					p.SyncError = SyncError(v)
				case fStreamHandle:
					p.StreamHandle = v
				case fOffset:
					p.Offset = v
				}
			}, nil)
		return *p, err

	case TypeCloseWriteStream:
		p := &CloseWriteStream{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			if num == fStreamHandle {
				p.StreamHandle = v
			}
		}, nil)
		return *p, err

	case TypeCloseWriteStreamAck:
		p := &CloseWriteStreamAck{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			if num == fSyncError {
				p.SyncError = SyncError(v)
			}
		}, nil)
		return *p, err

	case TypeOpenInbox:
		return OpenInbox{}, nil

	case TypeOpenInboxAck:
		p := &OpenInboxAck{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			switch num {
			case fUnread:
				p.Unread = v
			case fTotalLength:
				p.TotalLength = v
			}
		}, nil)
		return *p, err

	case TypeOpenNextInboxStream:
		return OpenNextInboxStream{}, nil

	case TypeOpenNextInboxStreamAck:
		p := &OpenNextInboxStreamAck{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fOpenReadType:
					p.Type = OpenReadAckType(v)
				case fStreamHandle:
					p.StreamHandle = v
				case fLength:
					p.Length = v
				}
			},
			func(num protowire.Number, v []byte) {
				if num == fFragmentHashes {
					if h, err := decodeHash(v); err == nil {
						p.FragmentHashes = append(p.FragmentHashes, h)
					}
				}
			})
		return *p, err

	case TypeReadFragment:
		p := &ReadFragment{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			switch num {
			case fStreamHandle:
				p.StreamHandle = v
			case fOffset:
				p.Offset = v
			}
		}, nil)
		return *p, err

	case TypeReadFragmentAck:
		p := &ReadFragmentAck{}
		err := walkFields(data,
			func(num protowire.Number, v uint64) {
				switch num {
				case fAckType:
					p.AckType = FragmentAckType(v)
				case fSyncError:
					p.SyncError = SyncError(v)
				case fStreamHandle:
					p.StreamHandle = v
				case fOffset:
					p.Offset = v
				}
			},
			func(num protowire.Number, v []byte) {
				if num == fContent {
					p.Content = append([]byte(nil), v...)
				}
			})
		return *p, err

	case TypeCloseInboxStream:
		p := &CloseInboxStream{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			switch num {
			case fStreamHandle:
				p.StreamHandle = v
			case fMarkAsRead:
				p.MarkAsRead = v != 0
			}
		}, nil)
		return *p, err

	case TypeCloseInboxStreamAck:
		p := &CloseInboxStreamAck{}
		err := walkFields(data, func(num protowire.Number, v uint64) {
			switch num {
			case fStreamHandle:
				p.StreamHandle = v
			case fSyncError:
				p.SyncError = SyncError(v)
			}
		}, nil)
		return *p, err

	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}
}
