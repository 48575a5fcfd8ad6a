package storage

import (
	"fmt"
	"sync"

	"github.com/agoracyber/dimsp-go/internal/types"
)

// BlobStore holds the content-addressed fragment store: blob metadata in
// bucketBlobs, fragment bytes in bucketFragments, and a secondary
// content-index (bucketContent) from a deterministic content hash to the
// id of a blob that has already been fully written, used only to answer
// the dedup question at open_write_stream time. Grounded on the teacher's
// internal/storage assembler, which also keys fragments by an owning id
// and tracks a next-expected-offset watermark; generalized here from a
// single in-flight backup to many concurrently open, content-addressed
// blobs.
type BlobStore struct {
	kv    KV
	codec *fragmentCodec

	// mu serializes the read-modify-write step on one blob's record. It is
	// never held across the KV fragment write itself: the record is read,
	// the lock released, the (possibly compressed) bytes are persisted,
	// then the lock is re-acquired just long enough to commit the new
	// watermark.
	mu sync.Mutex
}

// NewBlobStore constructs a BlobStore over kv, compressing fragment bodies
// with codec before they are persisted.
func NewBlobStore(kv KV, codec *fragmentCodec) *BlobStore {
	return &BlobStore{kv: kv, codec: codec}
}

func (s *BlobStore) getRecord(id types.Hash32) (blobRecord, bool, error) {
	raw, err := s.kv.Get(bucketBlobs, blobKey(id))
	if err != nil {
		return blobRecord{}, false, err
	}
	if raw == nil {
		return blobRecord{}, false, nil
	}
	rec, err := decodeBlobRecord(raw)
	if err != nil {
		return blobRecord{}, false, err
	}
	return rec, true, nil
}

func (s *BlobStore) putRecord(id types.Hash32, rec blobRecord) error {
	return s.kv.Put(bucketBlobs, blobKey(id), encodeBlobRecord(rec))
}

func toBlob(id types.Hash32, rec blobRecord) types.Blob {
	return types.Blob{
		ID:             id,
		Length:         rec.Length,
		FragmentHashes: rec.FragmentHashes,
		NextFragment:   rec.NextFragment,
	}
}

// FindDedup answers the open_write_stream dedup question: is there already
// a fully-written blob with this exact content? It returns ok=false on any
// cache miss or content mismatch (a derived-hash collision, or a stale
// index entry pointing at a since-removed blob), never an error — the
// caller always has a safe fallback of starting a fresh upload.
func (s *BlobStore) FindDedup(fragmentHashes []types.Hash32, length uint64) (types.Blob, bool, error) {
	derived := types.DeriveBlobID(fragmentHashes, length)
	idRaw, err := s.kv.Get(bucketContent, derived.Slice())
	if err != nil {
		return types.Blob{}, false, err
	}
	if idRaw == nil {
		return types.Blob{}, false, nil
	}
	id, err := types.NewHash32FromBytes(idRaw)
	if err != nil {
		return types.Blob{}, false, nil
	}
	rec, ok, err := s.getRecord(id)
	if err != nil {
		return types.Blob{}, false, err
	}
	if !ok || !toBlob(id, rec).Complete() {
		return types.Blob{}, false, nil
	}
	if !toBlob(id, rec).SameContent(fragmentHashes, length) {
		return types.Blob{}, false, nil
	}
	return toBlob(id, rec), true, nil
}

// StartWrite allocates a fresh, opaque blob id and persists its declared
// shape with zero fragments received. The id is random rather than
// content-derived: only a blob that reaches completion is indexed for
// future dedup, so two concurrent uploads of the same content never fight
// over one partially-written row.
func (s *BlobStore) StartWrite(fragmentHashes []types.Hash32, length uint64) (types.Blob, error) {
	id, err := types.RandomHash32()
	if err != nil {
		return types.Blob{}, fmt.Errorf("storage: allocating blob id: %w", err)
	}
	rec := blobRecord{
		Length:         length,
		FragmentHashes: fragmentHashes,
		Refcount:       1,
		NextFragment:   0,
	}
	if len(fragmentHashes) == 0 {
		// A declared-empty blob is complete the instant it is created; index
		// it immediately so every later zero-length upload dedups onto it.
		if err := s.putRecord(id, rec); err != nil {
			return types.Blob{}, err
		}
		if err := s.indexContent(id, rec); err != nil {
			return types.Blob{}, err
		}
		return toBlob(id, rec), nil
	}
	if err := s.putRecord(id, rec); err != nil {
		return types.Blob{}, err
	}
	return toBlob(id, rec), nil
}

func (s *BlobStore) indexContent(id types.Hash32, rec blobRecord) error {
	derived := types.DeriveBlobID(rec.FragmentHashes, rec.Length)
	return s.kv.Put(bucketContent, derived.Slice(), id.Slice())
}

// WriteFragment validates content against the fragment's declared hash,
// persists it, and advances the blob's watermark. offset must equal the
// blob's current NextFragment — fragments arrive strictly in order.
func (s *BlobStore) WriteFragment(id types.Hash32, offset uint64, content []byte) (types.Blob, error) {
	s.mu.Lock()
	rec, ok, err := s.getRecord(id)
	if err != nil {
		s.mu.Unlock()
		return types.Blob{}, err
	}
	if !ok {
		s.mu.Unlock()
		return types.Blob{}, ErrNotFound
	}
	if offset >= uint64(len(rec.FragmentHashes)) {
		s.mu.Unlock()
		return types.Blob{}, ErrOutOfRange
	}
	if offset != rec.NextFragment {
		s.mu.Unlock()
		return types.Blob{}, ErrSequence
	}
	want := rec.FragmentHashes[offset]
	s.mu.Unlock()

	if types.Keccak256(content) != want {
		return types.Blob{}, ErrHashMismatch
	}
	stored := s.codec.Encode(content)
	if err := s.kv.Put(bucketFragments, fragmentKey(id, offset), stored); err != nil {
		return types.Blob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err = s.getRecord(id)
	if err != nil {
		return types.Blob{}, err
	}
	if !ok {
		return types.Blob{}, ErrNotFound
	}
	if rec.NextFragment != offset {
		// Another writer already advanced past this offset; treat as a
		// harmless duplicate rather than an error.
		return toBlob(id, rec), nil
	}
	rec.NextFragment = offset + 1
	if err := s.putRecord(id, rec); err != nil {
		return types.Blob{}, err
	}
	if toBlob(id, rec).Complete() {
		if err := s.indexContent(id, rec); err != nil {
			return types.Blob{}, err
		}
	}
	return toBlob(id, rec), nil
}

// EndWrite finalizes an upload, returning ErrIncomplete if fragments are
// still missing.
func (s *BlobStore) EndWrite(id types.Hash32) (types.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.getRecord(id)
	if err != nil {
		return types.Blob{}, err
	}
	if !ok {
		return types.Blob{}, ErrNotFound
	}
	blob := toBlob(id, rec)
	if !blob.Complete() {
		return types.Blob{}, ErrIncomplete
	}
	return blob, nil
}

// AddRef bumps a completed blob's reference count when a new owner's
// timeline comes to reference it through dedup, so it survives until
// every referencing timeline has let it go.
func (s *BlobStore) AddRef(id types.Hash32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	rec.Refcount++
	return s.putRecord(id, rec)
}

// Remove decrements a blob's reference count, deleting its metadata,
// fragments, and content-index entry once the count reaches zero.
func (s *BlobStore) Remove(id types.Hash32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.Refcount > 1 {
		rec.Refcount--
		return s.putRecord(id, rec)
	}

	if toBlob(id, rec).Complete() {
		derived := types.DeriveBlobID(rec.FragmentHashes, rec.Length)
		if err := s.kv.Delete(bucketContent, derived.Slice()); err != nil {
			return err
		}
	}
	if err := s.kv.ForEachPrefix(bucketFragments, id.Slice(), func(key, _ []byte) error {
		return s.kv.Delete(bucketFragments, key)
	}); err != nil {
		return err
	}
	return s.kv.Delete(bucketBlobs, blobKey(id))
}

// Get returns a blob's current metadata without mutating it.
func (s *BlobStore) Get(id types.Hash32) (types.Blob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.getRecord(id)
	if err != nil || !ok {
		return types.Blob{}, ok, err
	}
	return toBlob(id, rec), true, nil
}

// ReadFragment returns the decompressed bytes previously written at
// offset, or ErrNotReady if the writer has not reached that offset yet.
func (s *BlobStore) ReadFragment(id types.Hash32, offset uint64) ([]byte, error) {
	s.mu.Lock()
	rec, ok, err := s.getRecord(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if offset >= uint64(len(rec.FragmentHashes)) {
		s.mu.Unlock()
		return nil, ErrOutOfRange
	}
	if offset >= rec.NextFragment {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	s.mu.Unlock()

	stored, err := s.kv.Get(bucketFragments, fragmentKey(id, offset))
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotFound
	}
	return s.codec.Decode(stored)
}
