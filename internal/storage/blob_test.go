package storage

import (
	"bytes"
	"errors"
	"testing"

	"github.com/agoracyber/dimsp-go/internal/types"
)

func newTestBlobStore(t *testing.T) *BlobStore {
	t.Helper()
	codec, err := newFragmentCodec()
	if err != nil {
		t.Fatalf("newFragmentCodec: %v", err)
	}
	return NewBlobStore(NewMemKV(), codec)
}

func fragmentSet(t *testing.T, parts ...string) ([]types.Hash32, uint64) {
	t.Helper()
	var hashes []types.Hash32
	var length uint64
	for _, p := range parts {
		hashes = append(hashes, types.Keccak256([]byte(p)))
		length += uint64(len(p))
	}
	return hashes, length
}

func TestBlobStoreWriteAndReadRoundTrip(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "Hell", "o wo", "rld")

	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if blob.Complete() {
		t.Fatalf("freshly started blob should not be complete")
	}

	parts := []string{"Hell", "o wo", "rld"}
	for i, p := range parts {
		updated, err := s.WriteFragment(blob.ID, uint64(i), []byte(p))
		if err != nil {
			t.Fatalf("WriteFragment(%d): %v", i, err)
		}
		blob = updated
	}
	if !blob.Complete() {
		t.Fatalf("blob should be complete after all fragments written")
	}

	if _, err := s.EndWrite(blob.ID); err != nil {
		t.Fatalf("EndWrite: %v", err)
	}

	var got bytes.Buffer
	for i := range parts {
		content, err := s.ReadFragment(blob.ID, uint64(i))
		if err != nil {
			t.Fatalf("ReadFragment(%d): %v", i, err)
		}
		got.Write(content)
	}
	if got.String() != "Hello world" {
		t.Fatalf("round trip mismatch: got %q", got.String())
	}
}

func TestBlobStoreRejectsHashMismatch(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "abcd")
	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if _, err := s.WriteFragment(blob.ID, 0, []byte("wxyz")); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestBlobStoreRejectsOutOfSequenceFragment(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "abcd", "efgh")
	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if _, err := s.WriteFragment(blob.ID, 1, []byte("efgh")); !errors.Is(err, ErrSequence) {
		t.Fatalf("expected ErrSequence, got %v", err)
	}
}

func TestBlobStoreRejectsOutOfRangeFragment(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "abcd")
	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if _, err := s.WriteFragment(blob.ID, 1, []byte("xxxx")); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

// TestBlobStoreDedup covers testable property 4: a second upload with the
// same content hashes dedups onto the already-complete blob.
func TestBlobStoreDedup(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "abcd")

	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if _, err := s.WriteFragment(blob.ID, 0, []byte("abcd")); err != nil {
		t.Fatalf("WriteFragment: %v", err)
	}

	found, ok, err := s.FindDedup(hashes, length)
	if err != nil {
		t.Fatalf("FindDedup: %v", err)
	}
	if !ok {
		t.Fatalf("expected dedup match after completing the first upload")
	}
	if found.ID != blob.ID || !found.Complete() {
		t.Fatalf("dedup match should reference the completed blob, got %+v", found)
	}
}

// TestBlobStoreZeroLengthIsImmediatelyComplete covers boundary property 9.
func TestBlobStoreZeroLengthIsImmediatelyComplete(t *testing.T) {
	s := newTestBlobStore(t)
	blob, err := s.StartWrite(nil, 0)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if !blob.Complete() {
		t.Fatalf("zero-length blob must be complete on creation")
	}
	found, ok, err := s.FindDedup(nil, 0)
	if err != nil {
		t.Fatalf("FindDedup: %v", err)
	}
	if !ok || found.ID != blob.ID {
		t.Fatalf("expected every zero-length upload to dedup onto the same blob")
	}
}

func TestBlobStoreRefcountedRemove(t *testing.T) {
	s := newTestBlobStore(t)
	hashes, length := fragmentSet(t, "abcd")
	blob, err := s.StartWrite(hashes, length)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	if _, err := s.WriteFragment(blob.ID, 0, []byte("abcd")); err != nil {
		t.Fatalf("WriteFragment: %v", err)
	}
	if err := s.AddRef(blob.ID); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	if err := s.Remove(blob.ID); err != nil {
		t.Fatalf("Remove (first): %v", err)
	}
	if _, ok, err := s.Get(blob.ID); err != nil || !ok {
		t.Fatalf("blob should survive while refcount > 0: ok=%v err=%v", ok, err)
	}
	if err := s.Remove(blob.ID); err != nil {
		t.Fatalf("Remove (second): %v", err)
	}
	if _, ok, err := s.Get(blob.ID); err != nil || ok {
		t.Fatalf("blob should be gone once refcount reaches zero: ok=%v err=%v", ok, err)
	}
}
