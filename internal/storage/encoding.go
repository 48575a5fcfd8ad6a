package storage

import (
	"fmt"

	"github.com/agoracyber/dimsp-go/internal/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// blobRecord is the persisted form of a blob's metadata (spec.md §6): its
// declared length, ordered fragment hashes, how many timelines currently
// reference it, and how many fragments have been received so far.
type blobRecord struct {
	Length         uint64
	FragmentHashes []types.Hash32
	Refcount       uint32
	NextFragment   uint64
}

const (
	brFieldLength         protowire.Number = 1
	brFieldFragmentHashes protowire.Number = 2
	brFieldRefcount       protowire.Number = 3
	brFieldNextFragment   protowire.Number = 4
)

func encodeBlobRecord(r blobRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, brFieldLength, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Length)
	for _, h := range r.FragmentHashes {
		b = protowire.AppendTag(b, brFieldFragmentHashes, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Slice())
	}
	b = protowire.AppendTag(b, brFieldRefcount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Refcount))
	b = protowire.AppendTag(b, brFieldNextFragment, protowire.VarintType)
	b = protowire.AppendVarint(b, r.NextFragment)
	return b
}

func decodeBlobRecord(data []byte) (blobRecord, error) {
	var r blobRecord
	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return r, fmt.Errorf("storage: malformed blob record tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch wireType {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return r, fmt.Errorf("storage: malformed blob record field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case brFieldLength:
				r.Length = v
			case brFieldRefcount:
				r.Refcount = uint32(v)
			case brFieldNextFragment:
				r.NextFragment = v
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return r, fmt.Errorf("storage: malformed blob record field %d: %w", num, protowire.ParseError(n))
			}
			if num == brFieldFragmentHashes {
				h, err := types.NewHash32FromBytes(v)
				if err != nil {
					return r, fmt.Errorf("storage: decoding fragment hash: %w", err)
				}
				r.FragmentHashes = append(r.FragmentHashes, h)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return r, fmt.Errorf("storage: malformed blob record field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return r, nil
}

// timelineRecord is the persisted {start,end} FIFO bounds for one
// account's timeline.
type timelineRecord struct {
	Start uint64
	End   uint64
}

const (
	trFieldStart protowire.Number = 1
	trFieldEnd   protowire.Number = 2
)

func encodeTimelineRecord(r timelineRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, trFieldStart, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Start)
	b = protowire.AppendTag(b, trFieldEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, r.End)
	return b
}

func decodeTimelineRecord(data []byte) (timelineRecord, error) {
	var r timelineRecord
	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return r, fmt.Errorf("storage: malformed timeline record tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return r, fmt.Errorf("storage: malformed timeline record field %d: %w", num, protowire.ParseError(n))
		}
		switch num {
		case trFieldStart:
			r.Start = v
		case trFieldEnd:
			r.End = v
		}
		data = data[n:]
	}
	return r, nil
}
