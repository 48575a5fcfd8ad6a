package storage

import (
	"encoding/binary"

	"github.com/agoracyber/dimsp-go/internal/types"
)

// Bucket names for the key spaces described in spec.md §6.
var (
	bucketQuota     = []byte("accounts_quota")
	bucketBlobs     = []byte("blobs")
	bucketFragments = []byte("fragments")
	bucketTimelines = []byte("timelines")
	bucketEntries   = []byte("timeline_entries")
	bucketCursors   = []byte("cursors")
	bucketContent   = []byte("content_index")
	bucketPending   = []byte("pending_blobs")
)

func uns64Key(unsID uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, unsID)
	return k
}

func blobKey(id types.Hash32) []byte {
	return id.Slice()
}

func fragmentKey(id types.Hash32, offset uint64) []byte {
	k := make([]byte, types.Hash32Size+4)
	copy(k, id.Slice())
	binary.BigEndian.PutUint32(k[types.Hash32Size:], uint32(offset))
	return k
}

func entryKey(unsID, offset uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[0:8], unsID)
	binary.BigEndian.PutUint64(k[8:16], offset)
	return k
}

func entryOffsetFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[8:16])
}

// cursorKey follows design-note §9's guidance: the client id's hashable
// binary form (a Hash32), not a stringified encoding, so distinct byte
// encodings of the same key can never collide or diverge.
func cursorKey(unsID uint64, clientID types.Hash32) []byte {
	k := make([]byte, 8+types.Hash32Size)
	binary.BigEndian.PutUint64(k[0:8], unsID)
	copy(k[8:], clientID.Slice())
	return k
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
