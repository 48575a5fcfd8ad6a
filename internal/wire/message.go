// Package wire implements the SyncMessage tagged envelope (spec.md §4.1):
// the fourteen request/response variants exchanged between a client and
// the hub, and a protobuf-wire-compatible codec for them.
package wire

import "github.com/agoracyber/dimsp-go/internal/types"

// MessageType discriminates the payload carried by a SyncMessage.
type MessageType uint8

const (
	TypeOpenWriteStream MessageType = iota + 1
	TypeOpenWriteStreamAck
	TypeWriteFragment
	TypeWriteFragmentAck
	TypeCloseWriteStream
	TypeCloseWriteStreamAck
	TypeOpenInbox
	TypeOpenInboxAck
	TypeOpenNextInboxStream
	TypeOpenNextInboxStreamAck
	TypeReadFragment
	TypeReadFragmentAck
	TypeCloseInboxStream
	TypeCloseInboxStreamAck
)

func (t MessageType) String() string {
	switch t {
	case TypeOpenWriteStream:
		return "OpenWriteStream"
	case TypeOpenWriteStreamAck:
		return "OpenWriteStreamAck"
	case TypeWriteFragment:
		return "WriteFragment"
	case TypeWriteFragmentAck:
		return "WriteFragmentAck"
	case TypeCloseWriteStream:
		return "CloseWriteStream"
	case TypeCloseWriteStreamAck:
		return "CloseWriteStreamAck"
	case TypeOpenInbox:
		return "OpenInbox"
	case TypeOpenInboxAck:
		return "OpenInboxAck"
	case TypeOpenNextInboxStream:
		return "OpenNextInboxStream"
	case TypeOpenNextInboxStreamAck:
		return "OpenNextInboxStreamAck"
	case TypeReadFragment:
		return "ReadFragment"
	case TypeReadFragmentAck:
		return "ReadFragmentAck"
	case TypeCloseInboxStream:
		return "CloseInboxStream"
	case TypeCloseInboxStreamAck:
		return "CloseInboxStreamAck"
	default:
		return "Unknown"
	}
}

// SyncError is the domain error taxonomy surfaced on acks (spec.md §7).
type SyncError uint8

const (
	ErrSuccess SyncError = iota
	ErrQuota
	ErrResource
	ErrFragmentHash
	ErrFragmentOffset
	ErrFragmentOutOfRange
	ErrBlobNotFound
	ErrInternal
)

func (e SyncError) String() string {
	switch e {
	case ErrSuccess:
		return "Success"
	case ErrQuota:
		return "Quota"
	case ErrResource:
		return "Resource"
	case ErrFragmentHash:
		return "FragmentHash"
	case ErrFragmentOffset:
		return "FragmentOffset"
	case ErrFragmentOutOfRange:
		return "FragmentOutOfRange"
	case ErrBlobNotFound:
		return "BlobNotFound"
	case ErrInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// OpenWriteAckType is OpenWriteStreamAck's three-way outcome.
type OpenWriteAckType uint8

const (
	OpenWriteAccept OpenWriteAckType = iota
	OpenWriteNoneed
	OpenWriteReject
)

// FragmentAckType is the three-way outcome shared by WriteFragmentAck and
// ReadFragmentAck.
type FragmentAckType uint8

const (
	FragmentContinue FragmentAckType = iota
	FragmentNomore
	FragmentBreak
)

// OpenReadAckType is OpenNextInboxStreamAck's outcome.
type OpenReadAckType uint8

const (
	OpenReadAccept OpenReadAckType = iota
	OpenReadNomore
)

// SyncMessage is the tagged envelope every request and response travels
// in: an originator-assigned correlation id, a type discriminant, and the
// payload matching that type.
type SyncMessage struct {
	ID      uint64
	Type    MessageType
	Payload any
}

// --- Request payloads ---

// OpenWriteStream requests a write stream for a new or resumed upload to
// account To, whose content is described by length and fragment hashes.
// InlineStream carries a single-fragment body so a one-round-trip upload
// is possible when len(FragmentHashes) == 1. Offset is the client's own
// resume hint; the façade's authoritative answer is the ack's
// NextFragment, not this value.
type OpenWriteStream struct {
	Length         uint64
	To             uint64
	Offset         uint64
	FragmentHashes []types.Hash32
	InlineStream   []byte // nil when absent
}

type OpenWriteStreamAck struct {
	AckType      OpenWriteAckType
	SyncError    SyncError
	StreamHandle uint64
	HasHandle    bool
	NextFragment uint64
}

type WriteFragment struct {
	StreamHandle uint64
	Offset       uint64
	Content      []byte
}

type WriteFragmentAck struct {
	AckType      FragmentAckType
	SyncError    SyncError
	StreamHandle uint64
	Offset       uint64
}

type CloseWriteStream struct {
	StreamHandle uint64
}

type CloseWriteStreamAck struct {
	SyncError SyncError
}

type OpenInbox struct{}

type OpenInboxAck struct {
	Unread      uint64
	TotalLength uint64
}

type OpenNextInboxStream struct{}

type OpenNextInboxStreamAck struct {
	Type           OpenReadAckType
	StreamHandle   uint64
	Length         uint64
	FragmentHashes []types.Hash32
}

type ReadFragment struct {
	StreamHandle uint64
	Offset       uint64
}

type ReadFragmentAck struct {
	AckType      FragmentAckType
	SyncError    SyncError
	StreamHandle uint64
	Offset       uint64
	Content      []byte
}

type CloseInboxStream struct {
	StreamHandle uint64
	MarkAsRead   bool
}

type CloseInboxStreamAck struct {
	StreamHandle uint64
	SyncError    SyncError
}

// AckTypeFor returns the response MessageType that answers a request
// MessageType, or ok=false if t does not name a request.
func AckTypeFor(t MessageType) (MessageType, bool) {
	switch t {
	case TypeOpenWriteStream:
		return TypeOpenWriteStreamAck, true
	case TypeWriteFragment:
		return TypeWriteFragmentAck, true
	case TypeCloseWriteStream:
		return TypeCloseWriteStreamAck, true
	case TypeOpenInbox:
		return TypeOpenInboxAck, true
	case TypeOpenNextInboxStream:
		return TypeOpenNextInboxStreamAck, true
	case TypeReadFragment:
		return TypeReadFragmentAck, true
	case TypeCloseInboxStream:
		return TypeCloseInboxStreamAck, true
	default:
		return 0, false
	}
}
