package storage

import (
	"testing"
	"time"

	"github.com/agoracyber/dimsp-go/internal/types"
)

func mustHash(t *testing.T, seed byte) types.Hash32 {
	t.Helper()
	return types.Keccak256([]byte{seed})
}

// TestTimelineStoreFIFOOrder covers testable property 3: repeated
// open_next_inbox_stream/close(mark_as_read=true) yields blobs in append
// order.
func TestTimelineStoreFIFOOrder(t *testing.T) {
	ts := NewTimelineStore(NewMemKV())
	const unsID = 1
	client := mustHash(t, 0xAA)
	now := time.Now()

	var appended []types.Hash32
	for i := byte(0); i < 3; i++ {
		id := mustHash(t, i)
		appended = append(appended, id)
		if _, err := ts.Append(unsID, id, time.Minute, now); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	for i, want := range appended {
		offset, got, ok, err := ts.Next(unsID, client)
		if err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Next(%d): expected an unread entry", i)
		}
		if got != want {
			t.Fatalf("Next(%d): got blob %v, want %v", i, got, want)
		}
		if err := ts.AdvanceCursor(unsID, client, offset); err != nil {
			t.Fatalf("AdvanceCursor(%d): %v", i, err)
		}
	}

	if _, _, ok, err := ts.Next(unsID, client); err != nil || ok {
		t.Fatalf("expected no more unread entries: ok=%v err=%v", ok, err)
	}
}

// TestTimelineStoreMarkAsReadFalseDoesNotAdvance covers boundary property
// 10: an aborted read leaves the cursor untouched.
func TestTimelineStoreMarkAsReadFalseDoesNotAdvance(t *testing.T) {
	ts := NewTimelineStore(NewMemKV())
	const unsID = 1
	client := mustHash(t, 0xBB)
	now := time.Now()
	id := mustHash(t, 1)
	if _, err := ts.Append(unsID, id, time.Minute, now); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, first, ok, err := ts.Next(unsID, client)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	// Simulate close_inbox_stream(mark_as_read=false): no AdvanceCursor call.

	_, second, ok, err := ts.Next(unsID, client)
	if err != nil || !ok {
		t.Fatalf("Next (again): ok=%v err=%v", ok, err)
	}
	if first != second {
		t.Fatalf("expected the same blob to be re-offered: %v != %v", first, second)
	}
}

// TestTimelineStoreIndependentClientCursors covers boundary property 11.
func TestTimelineStoreIndependentClientCursors(t *testing.T) {
	ts := NewTimelineStore(NewMemKV())
	const unsID = 1
	alice := mustHash(t, 0x01)
	bob := mustHash(t, 0x02)
	now := time.Now()
	id := mustHash(t, 0x10)
	if _, err := ts.Append(unsID, id, time.Minute, now); err != nil {
		t.Fatalf("Append: %v", err)
	}

	offset, _, ok, err := ts.Next(unsID, alice)
	if err != nil || !ok {
		t.Fatalf("Next(alice): ok=%v err=%v", ok, err)
	}
	if err := ts.AdvanceCursor(unsID, alice, offset); err != nil {
		t.Fatalf("AdvanceCursor(alice): %v", err)
	}

	if _, _, ok, err := ts.Next(unsID, alice); err != nil || ok {
		t.Fatalf("alice should have caught up: ok=%v err=%v", ok, err)
	}
	if _, got, ok, err := ts.Next(unsID, bob); err != nil || !ok || got != id {
		t.Fatalf("bob should still see the message independently: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestTimelineStoreExpiredEntriesAdvanceStart(t *testing.T) {
	ts := NewTimelineStore(NewMemKV())
	const unsID = 1
	past := time.Now().Add(-time.Hour)
	expiredID := mustHash(t, 0x01)
	freshID := mustHash(t, 0x02)

	if _, err := ts.Append(unsID, expiredID, time.Second, past); err != nil {
		t.Fatalf("Append(expired): %v", err)
	}
	if _, err := ts.Append(unsID, freshID, time.Hour, time.Now()); err != nil {
		t.Fatalf("Append(fresh): %v", err)
	}

	expired, err := ts.ExpiredEntries(unsID, time.Now())
	if err != nil {
		t.Fatalf("ExpiredEntries: %v", err)
	}
	if len(expired) != 1 || expired[0] != expiredID {
		t.Fatalf("expected exactly the expired entry, got %v", expired)
	}

	_, got, ok, err := ts.Next(unsID, mustHash(t, 0xFF))
	if err != nil || !ok || got != freshID {
		t.Fatalf("expected the surviving entry to now be first: got=%v ok=%v err=%v", got, ok, err)
	}
}
