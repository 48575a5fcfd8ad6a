// Package types holds the principal/account, hash, and blob data model
// shared by the storage façade, the session state machine, and the wire
// codec.
package types

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Hash32Size is the byte length of a Hash32 value.
const Hash32Size = 32

// Hash32 is a 32-byte fixed digest, held internally as four big-endian
// 64-bit lanes (bytes 0..8, 8..16, 16..24, 24..32) rather than a raw byte
// slice so it is directly comparable and usable as a map key. It is used
// both as a fragment digest (Keccak-256) and as a blob/stream identity.
type Hash32 struct {
	lanes [4]uint64
}

// ZeroHash32 is the all-zero hash, used as the sentinel "unset" value.
var ZeroHash32 = Hash32{}

// NewHash32FromBytes decodes a 32-byte big-endian buffer into a Hash32.
func NewHash32FromBytes(b []byte) (Hash32, error) {
	if len(b) != Hash32Size {
		return Hash32{}, fmt.Errorf("types: hash32 must be %d bytes, got %d", Hash32Size, len(b))
	}
	var h Hash32
	h.lanes[0] = binary.BigEndian.Uint64(b[0:8])
	h.lanes[1] = binary.BigEndian.Uint64(b[8:16])
	h.lanes[2] = binary.BigEndian.Uint64(b[16:24])
	h.lanes[3] = binary.BigEndian.Uint64(b[24:32])
	return h, nil
}

// Bytes re-encodes the hash as a 32-byte big-endian buffer.
func (h Hash32) Bytes() [Hash32Size]byte {
	var out [Hash32Size]byte
	binary.BigEndian.PutUint64(out[0:8], h.lanes[0])
	binary.BigEndian.PutUint64(out[8:16], h.lanes[1])
	binary.BigEndian.PutUint64(out[16:24], h.lanes[2])
	binary.BigEndian.PutUint64(out[24:32], h.lanes[3])
	return out
}

// Slice is Bytes as a []byte, for callers that need a slice.
func (h Hash32) Slice() []byte {
	b := h.Bytes()
	return b[:]
}

// IsZero reports whether h is the all-zero sentinel.
func (h Hash32) IsZero() bool {
	return h == ZeroHash32
}

// String renders the hash as lowercase hex, for logs and error messages.
func (h Hash32) String() string {
	b := h.Bytes()
	return hex.EncodeToString(b[:])
}

// Less gives Hash32 a total order so fragment hash lists can be sorted
// deterministically (needed for DeriveBlobID).
func (h Hash32) Less(o Hash32) bool {
	for i := 0; i < 4; i++ {
		if h.lanes[i] != o.lanes[i] {
			return h.lanes[i] < o.lanes[i]
		}
	}
	return false
}

// Keccak256 hashes data and returns it as a Hash32. This is the digest
// function named throughout the spec for fragment verification and
// deterministic blob identity.
func Keccak256(data []byte) Hash32 {
	sum := sha3.NewLegacyKeccak256()
	sum.Write(data)
	digest := sum.Sum(nil)
	h, err := NewHash32FromBytes(digest)
	if err != nil {
		// sha3.NewLegacyKeccak256 always produces 32 bytes; unreachable.
		panic(fmt.Sprintf("types: keccak256 produced %d bytes", len(digest)))
	}
	return h
}

// RandomHash32 generates a fresh random Hash32, used for blob ids opened
// without a deterministic dedup match.
func RandomHash32() (Hash32, error) {
	var b [Hash32Size]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Hash32{}, fmt.Errorf("types: generating random hash: %w", err)
	}
	return NewHash32FromBytes(b[:])
}

// DeriveBlobID computes the deterministic content-addressed blob id used
// for dedup: keccak256(concat(sorted(fragmentHashes)) || length_be_u64).
// Two uploads with identical fragment hashes and length always produce the
// same id, which is what lets open_write_stream recognize a repeat upload.
func DeriveBlobID(fragmentHashes []Hash32, length uint64) Hash32 {
	sorted := make([]Hash32, len(fragmentHashes))
	copy(sorted, fragmentHashes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	buf := make([]byte, 0, len(sorted)*Hash32Size+8)
	for _, h := range sorted {
		b := h.Bytes()
		buf = append(buf, b[:]...)
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], length)
	buf = append(buf, lenBuf[:]...)

	return Keccak256(buf)
}
