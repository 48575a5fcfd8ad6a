package storage

import "sync"

// QuotaTracker holds each account's running byte usage in bucketQuota.
// Reservations are made at open_write_stream time and only released when
// the referenced content leaves the account's active set — a timeline
// entry aging out under lease-expiry GC, or an opened-but-never-closed
// upload expiring the same way. There is deliberately no separate
// "provisional" vs "permanent" state: spec.md's close_write_stream
// language about accounting "becoming permanent" describes what the
// client observes (the upload cannot be rolled back once acked), not a
// second in-memory ledger.
type QuotaTracker struct {
	kv KV
	mu sync.Mutex
}

func NewQuotaTracker(kv KV) *QuotaTracker {
	return &QuotaTracker{kv: kv}
}

func (q *QuotaTracker) used(unsID uint64) (uint64, error) {
	raw, err := q.kv.Get(bucketQuota, uns64Key(unsID))
	if err != nil {
		return 0, err
	}
	return decodeU64(raw), nil
}

// Reserve charges amount against unsID's usage if doing so would not
// exceed limit, returning ErrQuotaExceeded otherwise.
func (q *QuotaTracker) Reserve(unsID, limit, amount uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	used, err := q.used(unsID)
	if err != nil {
		return err
	}
	if used+amount > limit {
		return ErrQuotaExceeded
	}
	return q.kv.Put(bucketQuota, uns64Key(unsID), encodeU64(used+amount))
}

// Release gives back amount previously reserved, flooring at zero.
func (q *QuotaTracker) Release(unsID, amount uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	used, err := q.used(unsID)
	if err != nil {
		return err
	}
	if amount > used {
		amount = used
	}
	return q.kv.Put(bucketQuota, uns64Key(unsID), encodeU64(used-amount))
}

// Used reports unsID's current reserved usage.
func (q *QuotaTracker) Used(unsID uint64) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used(unsID)
}
