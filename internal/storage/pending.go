package storage

import (
	"encoding/binary"
	"time"

	"github.com/agoracyber/dimsp-go/internal/types"
)

// pendingUpload tracks an open write handle's quota reservation from
// open_write_stream until close_write_stream drops this record (the charge
// itself stays in place and is released later by GC). spec.md notes
// that a dropped connection's partially written blob is "kept pending
// until either lease-based GC or an explicit resume" — without this
// record, that blob's quota charge would otherwise never be reclaimed,
// since it never reaches a timeline for the normal expiry sweep to find.
type pendingUpload struct {
	Owner     uint64
	Amount    uint64
	CreatedAt time.Time
	Lease     time.Duration
}

func encodePendingUpload(v pendingUpload) []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b[0:8], v.Owner)
	binary.BigEndian.PutUint64(b[8:16], v.Amount)
	binary.BigEndian.PutUint64(b[16:24], uint64(v.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(b[24:32], uint64(v.Lease))
	return b
}

func decodePendingUpload(b []byte) (pendingUpload, bool) {
	if len(b) != 32 {
		return pendingUpload{}, false
	}
	return pendingUpload{
		Owner:     binary.BigEndian.Uint64(b[0:8]),
		Amount:    binary.BigEndian.Uint64(b[8:16]),
		CreatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(b[16:24]))),
		Lease:     time.Duration(binary.BigEndian.Uint64(b[24:32])),
	}, true
}

func (s *Facade) putPending(id types.Hash32, v pendingUpload) error {
	return s.kv.Put(bucketPending, blobKey(id), encodePendingUpload(v))
}

func (s *Facade) dropPending(id types.Hash32) error {
	return s.kv.Delete(bucketPending, blobKey(id))
}

func (s *Facade) getPending(id types.Hash32) (pendingUpload, bool, error) {
	raw, err := s.kv.Get(bucketPending, blobKey(id))
	if err != nil {
		return pendingUpload{}, false, err
	}
	if raw == nil {
		return pendingUpload{}, false, nil
	}
	v, ok := decodePendingUpload(raw)
	return v, ok, nil
}
