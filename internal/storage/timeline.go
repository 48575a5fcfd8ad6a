package storage

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/agoracyber/dimsp-go/internal/types"
)

// timelineEntryValue is the bucketEntries payload: the referenced blob,
// plus the append-time snapshot of the owner's lease used by GC to decide
// when the entry ages out. Capturing the lease per-entry (rather than
// looking it up fresh at sweep time) means an account's lease change only
// ever affects messages appended after the change.
type timelineEntryValue struct {
	BlobID    types.Hash32
	CreatedAt time.Time
	Lease     time.Duration
}

func encodeTimelineEntry(v timelineEntryValue) []byte {
	b := make([]byte, types.Hash32Size+16)
	copy(b, v.BlobID.Slice())
	binary.BigEndian.PutUint64(b[types.Hash32Size:], uint64(v.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(b[types.Hash32Size+8:], uint64(v.Lease))
	return b
}

func decodeTimelineEntry(b []byte) (timelineEntryValue, error) {
	if len(b) != types.Hash32Size+16 {
		return timelineEntryValue{}, ErrNotFound
	}
	id, err := types.NewHash32FromBytes(b[:types.Hash32Size])
	if err != nil {
		return timelineEntryValue{}, err
	}
	createdAt := int64(binary.BigEndian.Uint64(b[types.Hash32Size : types.Hash32Size+8]))
	lease := int64(binary.BigEndian.Uint64(b[types.Hash32Size+8:]))
	return timelineEntryValue{
		BlobID:    id,
		CreatedAt: time.Unix(0, createdAt),
		Lease:     time.Duration(lease),
	}, nil
}

// TimelineStore holds each account's append-only FIFO of delivered blobs
// and every connected client's read cursor into it. Grounded on
// original_source/storage/src/leveldb_timeline.rs's Account{start,end,
// clients} structure, reimplemented over per-bucket bbolt keys instead of
// one JSON blob per account.
type TimelineStore struct {
	kv KV
	mu sync.Mutex
}

func NewTimelineStore(kv KV) *TimelineStore {
	return &TimelineStore{kv: kv}
}

func (t *TimelineStore) getRecord(unsID uint64) (timelineRecord, error) {
	raw, err := t.kv.Get(bucketTimelines, uns64Key(unsID))
	if err != nil {
		return timelineRecord{}, err
	}
	if raw == nil {
		return timelineRecord{}, nil
	}
	return decodeTimelineRecord(raw)
}

func (t *TimelineStore) putRecord(unsID uint64, rec timelineRecord) error {
	return t.kv.Put(bucketTimelines, uns64Key(unsID), encodeTimelineRecord(rec))
}

// Append adds blobID to the end of unsID's timeline and returns the offset
// it was assigned.
func (t *TimelineStore) Append(unsID uint64, blobID types.Hash32, lease time.Duration, now time.Time) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getRecord(unsID)
	if err != nil {
		return 0, err
	}
	offset := rec.End
	val := timelineEntryValue{BlobID: blobID, CreatedAt: now, Lease: lease}
	if err := t.kv.Put(bucketEntries, entryKey(unsID, offset), encodeTimelineEntry(val)); err != nil {
		return 0, err
	}
	rec.End++
	if err := t.putRecord(unsID, rec); err != nil {
		return 0, err
	}
	return offset, nil
}

func (t *TimelineStore) cursor(unsID uint64, clientID types.Hash32) (uint64, error) {
	raw, err := t.kv.Get(bucketCursors, cursorKey(unsID, clientID))
	if err != nil {
		return 0, err
	}
	return decodeU64(raw), nil
}

// effectiveCursor clamps a client's stored cursor into [start, end] —
// lease-driven GC may have advanced start past a lagging client's cursor.
func effectiveCursor(rec timelineRecord, cursor uint64) uint64 {
	if cursor < rec.Start {
		return rec.Start
	}
	if cursor > rec.End {
		return rec.End
	}
	return cursor
}

// Status returns the unread-message count and total unread byte length for
// clientID against unsID's timeline, using lengthOf to resolve each
// referenced blob's declared length.
func (t *TimelineStore) Status(unsID uint64, clientID types.Hash32, lengthOf func(types.Hash32) (uint64, bool, error)) (types.Inbox, error) {
	t.mu.Lock()
	rec, err := t.getRecord(unsID)
	if err != nil {
		t.mu.Unlock()
		return types.Inbox{}, err
	}
	raw, err := t.cursor(unsID, clientID)
	t.mu.Unlock()
	if err != nil {
		return types.Inbox{}, err
	}
	start := effectiveCursor(rec, raw)

	var total uint64
	for off := start; off < rec.End; off++ {
		entryRaw, err := t.kv.Get(bucketEntries, entryKey(unsID, off))
		if err != nil {
			return types.Inbox{}, err
		}
		if entryRaw == nil {
			continue
		}
		ent, err := decodeTimelineEntry(entryRaw)
		if err != nil {
			return types.Inbox{}, err
		}
		length, ok, err := lengthOf(ent.BlobID)
		if err != nil {
			return types.Inbox{}, err
		}
		if ok {
			total += length
		}
	}
	return types.Inbox{Unread: rec.End - start, TotalLength: total}, nil
}

// Next returns the first unread entry for clientID without advancing its
// cursor. ok is false when the client has no unread messages.
func (t *TimelineStore) Next(unsID uint64, clientID types.Hash32) (offset uint64, blobID types.Hash32, ok bool, err error) {
	t.mu.Lock()
	rec, err := t.getRecord(unsID)
	if err != nil {
		t.mu.Unlock()
		return 0, types.Hash32{}, false, err
	}
	raw, err := t.cursor(unsID, clientID)
	t.mu.Unlock()
	if err != nil {
		return 0, types.Hash32{}, false, err
	}
	start := effectiveCursor(rec, raw)
	if start >= rec.End {
		return 0, types.Hash32{}, false, nil
	}
	entryRaw, err := t.kv.Get(bucketEntries, entryKey(unsID, start))
	if err != nil {
		return 0, types.Hash32{}, false, err
	}
	if entryRaw == nil {
		return 0, types.Hash32{}, false, nil
	}
	ent, err := decodeTimelineEntry(entryRaw)
	if err != nil {
		return 0, types.Hash32{}, false, err
	}
	return start, ent.BlobID, true, nil
}

// AdvanceCursor moves clientID's cursor forward by one entry from offset,
// clamped to the timeline's current bounds. Cursors never rewind.
func (t *TimelineStore) AdvanceCursor(unsID uint64, clientID types.Hash32, offset uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.getRecord(unsID)
	if err != nil {
		return err
	}
	current, err := t.cursor(unsID, clientID)
	if err != nil {
		return err
	}
	next := offset + 1
	if next <= current {
		return nil
	}
	if next > rec.End {
		next = rec.End
	}
	return t.kv.Put(bucketCursors, cursorKey(unsID, clientID), encodeU64(next))
}

// ExpiredEntries walks unsID's timeline from its current start and returns
// the blob ids of every entry whose lease has elapsed as of now, advancing
// start past them. The caller is responsible for releasing each returned
// blob id's reference (and archiving it first, if configured) — this
// method only retires the timeline bookkeeping.
func (t *TimelineStore) ExpiredEntries(unsID uint64, now time.Time) ([]types.Hash32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getRecord(unsID)
	if err != nil {
		return nil, err
	}
	var expired []types.Hash32
	start := rec.Start
	for start < rec.End {
		key := entryKey(unsID, start)
		raw, err := t.kv.Get(bucketEntries, key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			start++
			continue
		}
		ent, err := decodeTimelineEntry(raw)
		if err != nil {
			return nil, err
		}
		if now.Sub(ent.CreatedAt) < ent.Lease {
			break
		}
		expired = append(expired, ent.BlobID)
		if err := t.kv.Delete(bucketEntries, key); err != nil {
			return nil, err
		}
		start++
	}
	if start == rec.Start {
		return expired, nil
	}
	rec.Start = start
	return expired, t.putRecord(unsID, rec)
}

// AccountsWithTimelines enumerates every account that has ever appended to
// a timeline, for the GC sweep to iterate.
func (t *TimelineStore) AccountsWithTimelines() ([]uint64, error) {
	var ids []uint64
	err := t.kv.ForEachPrefix(bucketTimelines, nil, func(key, _ []byte) error {
		ids = append(ids, decodeU64(key))
		return nil
	})
	return ids, err
}
