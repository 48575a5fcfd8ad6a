package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agoracyber/dimsp-go/internal/metrics"
	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/agoracyber/dimsp-go/internal/wire"
)

// writeHandle is the in-memory record behind an open_write_stream's
// stream_handle. Handles live in the façade-wide writeHandles map until
// close_write_stream removes them; they are not tied to the session that
// opened them, are not released when its connection ends, and are
// accepted from any session that presents the handle value.
type writeHandle struct {
	BlobID types.Hash32
	Owner  uint64
	Lease  time.Duration
}

// readHandle is the analogous record for open_next_inbox_stream.
// EntryOffset is the timeline position close_inbox_stream advances the
// cursor past when mark_as_read is set.
type readHandle struct {
	BlobID      types.Hash32
	Owner       uint64
	ClientID    types.Hash32
	EntryOffset uint64
}

// Facade implements the seven storage operations spec.md §4.2 names,
// stitching together the blob store, timeline store, quota tracker, and
// the domain-stack admission checks (disk headroom, per-account rate
// limiting). Grounded on the teacher's internal/server.Handler, which
// plays the same stitching role between the wire protocol and
// internal/storage's assembler.
type Facade struct {
	kv        KV
	blobs     *BlobStore
	timelines *TimelineStore
	quota     *QuotaTracker
	limiter   *limiterRegistry
	disk      *diskGate
	archiver  Archiver // nil disables cold-archive on lease expiry
	metrics   *metrics.Registry

	mu           sync.Mutex
	writeHandles map[uint64]writeHandle
	readHandles  map[uint64]readHandle
	handleSeq    atomic.Uint64
}

// SetMetrics attaches the registry WriteFragment/ReadFragment report byte
// counts to. Left unset (nil), the façade runs without metrics, the way
// NewFacade's tests do.
func (s *Facade) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// NewFacade builds a Facade over kv, gating admission on free space at
// diskPath. archiver may be nil.
func NewFacade(kv KV, diskPath string, archiver Archiver) (*Facade, error) {
	codec, err := newFragmentCodec()
	if err != nil {
		return nil, err
	}
	return &Facade{
		kv:           kv,
		blobs:        NewBlobStore(kv, codec),
		timelines:    NewTimelineStore(kv),
		quota:        NewQuotaTracker(kv),
		limiter:      newLimiterRegistry(),
		disk:         newDiskGate(diskPath),
		archiver:     archiver,
		writeHandles: make(map[uint64]writeHandle),
		readHandles:  make(map[uint64]readHandle),
	}, nil
}

func (s *Facade) newHandle() uint64 {
	return s.handleSeq.Add(1)
}

func (s *Facade) blobLength(id types.Hash32) (uint64, bool, error) {
	b, ok, err := s.blobs.Get(id)
	if err != nil || !ok {
		return 0, ok, err
	}
	return b.Length, true, nil
}

// OpenWriteStream implements spec.md §4.2's open_write_stream.
func (s *Facade) OpenWriteStream(owner types.MNSAccount, req wire.OpenWriteStream) (wire.OpenWriteStreamAck, error) {
	if !s.disk.hasHeadroom() {
		return wire.OpenWriteStreamAck{AckType: wire.OpenWriteReject, SyncError: wire.ErrResource}, nil
	}

	blob, dup, err := s.blobs.FindDedup(req.FragmentHashes, req.Length)
	if err != nil {
		return wire.OpenWriteStreamAck{}, err
	}

	inlineFailed := false
	if dup {
		if err := s.blobs.AddRef(blob.ID); err != nil {
			return wire.OpenWriteStreamAck{}, err
		}
	} else {
		blob, err = s.blobs.StartWrite(req.FragmentHashes, req.Length)
		if err != nil {
			return wire.OpenWriteStreamAck{}, err
		}
		if len(req.FragmentHashes) == 1 && req.InlineStream != nil {
			updated, werr := s.blobs.WriteFragment(blob.ID, 0, req.InlineStream)
			switch {
			case werr == nil:
				blob = updated
			case errors.Is(werr, ErrHashMismatch):
				inlineFailed = true
			default:
				_ = s.blobs.Remove(blob.ID)
				return wire.OpenWriteStreamAck{}, werr
			}
		}
	}

	if inlineFailed {
		_ = s.blobs.Remove(blob.ID)
		return wire.OpenWriteStreamAck{AckType: wire.OpenWriteReject, SyncError: wire.ErrFragmentHash}, nil
	}

	if err := s.quota.Reserve(owner.UNSID, owner.Quota, req.Length); err != nil {
		_ = s.blobs.Remove(blob.ID)
		return wire.OpenWriteStreamAck{AckType: wire.OpenWriteReject, SyncError: wire.ErrQuota}, nil
	}

	if blob.Complete() {
		if _, err := s.timelines.Append(owner.UNSID, blob.ID, owner.Lease, time.Now()); err != nil {
			return wire.OpenWriteStreamAck{}, err
		}
		return wire.OpenWriteStreamAck{
			AckType:      wire.OpenWriteNoneed,
			SyncError:    wire.ErrSuccess,
			NextFragment: blob.NextFragment,
		}, nil
	}

	handle := s.newHandle()
	s.mu.Lock()
	s.writeHandles[handle] = writeHandle{BlobID: blob.ID, Owner: owner.UNSID, Lease: owner.Lease}
	s.mu.Unlock()
	if err := s.putPending(blob.ID, pendingUpload{
		Owner:     owner.UNSID,
		Amount:    req.Length,
		CreatedAt: time.Now(),
		Lease:     owner.Lease,
	}); err != nil {
		return wire.OpenWriteStreamAck{}, err
	}

	return wire.OpenWriteStreamAck{
		AckType:      wire.OpenWriteAccept,
		SyncError:    wire.ErrSuccess,
		StreamHandle: handle,
		HasHandle:    true,
		NextFragment: blob.NextFragment,
	}, nil
}

// WriteFragment implements spec.md §4.2's write_fragment.
func (s *Facade) WriteFragment(ctx context.Context, owner types.MNSAccount, req wire.WriteFragment) (wire.WriteFragmentAck, error) {
	s.mu.Lock()
	wh, ok := s.writeHandles[req.StreamHandle]
	s.mu.Unlock()
	if !ok {
		return wire.WriteFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrResource, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	}

	blob, err := s.blobs.WriteFragment(wh.BlobID, req.Offset, req.Content)
	switch {
	case err == nil:
	case errors.Is(err, ErrSequence):
		return wire.WriteFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrFragmentOffset, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	case errors.Is(err, ErrOutOfRange):
		return wire.WriteFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrFragmentOutOfRange, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	case errors.Is(err, ErrHashMismatch):
		return wire.WriteFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrFragmentHash, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	case errors.Is(err, ErrNotFound):
		return wire.WriteFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrResource, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	default:
		return wire.WriteFragmentAck{}, err
	}

	if err := s.limiter.wait(ctx, owner.UNSID, owner.Quota, len(req.Content)); err != nil {
		return wire.WriteFragmentAck{}, err
	}
	if s.metrics != nil {
		s.metrics.BytesWrittenTotal.Add(float64(len(req.Content)))
	}

	ackType := wire.FragmentContinue
	if blob.Complete() {
		ackType = wire.FragmentNomore
	}
	return wire.WriteFragmentAck{AckType: ackType, SyncError: wire.ErrSuccess, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
}

// CloseWriteStream implements spec.md §4.2's close_write_stream.
func (s *Facade) CloseWriteStream(req wire.CloseWriteStream) (wire.CloseWriteStreamAck, error) {
	s.mu.Lock()
	wh, ok := s.writeHandles[req.StreamHandle]
	if ok {
		delete(s.writeHandles, req.StreamHandle)
	}
	s.mu.Unlock()
	if !ok {
		return wire.CloseWriteStreamAck{SyncError: wire.ErrResource}, nil
	}

	blob, err := s.blobs.EndWrite(wh.BlobID)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return wire.CloseWriteStreamAck{SyncError: wire.ErrResource}, nil
		}
		return wire.CloseWriteStreamAck{}, err
	}

	if err := s.dropPending(wh.BlobID); err != nil {
		return wire.CloseWriteStreamAck{}, err
	}
	if _, err := s.timelines.Append(wh.Owner, blob.ID, wh.Lease, time.Now()); err != nil {
		return wire.CloseWriteStreamAck{}, err
	}
	return wire.CloseWriteStreamAck{SyncError: wire.ErrSuccess}, nil
}

// OpenInbox implements spec.md §4.2's open_inbox.
func (s *Facade) OpenInbox(owner types.MNSAccount, clientID types.Hash32) (wire.OpenInboxAck, error) {
	inbox, err := s.timelines.Status(owner.UNSID, clientID, s.blobLength)
	if err != nil {
		return wire.OpenInboxAck{}, err
	}
	return wire.OpenInboxAck{Unread: inbox.Unread, TotalLength: inbox.TotalLength}, nil
}

// OpenNextInboxStream implements spec.md §4.2's open_next_inbox_stream.
func (s *Facade) OpenNextInboxStream(owner types.MNSAccount, clientID types.Hash32) (wire.OpenNextInboxStreamAck, error) {
	offset, blobID, ok, err := s.timelines.Next(owner.UNSID, clientID)
	if err != nil {
		return wire.OpenNextInboxStreamAck{}, err
	}
	if !ok {
		return wire.OpenNextInboxStreamAck{Type: wire.OpenReadNomore}, nil
	}
	blob, ok, err := s.blobs.Get(blobID)
	if err != nil {
		return wire.OpenNextInboxStreamAck{}, err
	}
	if !ok {
		// The referenced blob is gone (lease GC raced the reader); behave
		// as if nothing were queued rather than wedging the client.
		return wire.OpenNextInboxStreamAck{Type: wire.OpenReadNomore}, nil
	}

	handle := s.newHandle()
	s.mu.Lock()
	s.readHandles[handle] = readHandle{BlobID: blobID, Owner: owner.UNSID, ClientID: clientID, EntryOffset: offset}
	s.mu.Unlock()

	return wire.OpenNextInboxStreamAck{
		Type:           wire.OpenReadAccept,
		StreamHandle:   handle,
		Length:         blob.Length,
		FragmentHashes: blob.FragmentHashes,
	}, nil
}

// ReadFragment implements spec.md §4.2's read_fragment.
func (s *Facade) ReadFragment(ctx context.Context, owner types.MNSAccount, req wire.ReadFragment) (wire.ReadFragmentAck, error) {
	s.mu.Lock()
	rh, ok := s.readHandles[req.StreamHandle]
	s.mu.Unlock()
	if !ok {
		return wire.ReadFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrResource, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	}

	content, err := s.blobs.ReadFragment(rh.BlobID, req.Offset)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady):
		return wire.ReadFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrResource, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	case errors.Is(err, ErrOutOfRange):
		return wire.ReadFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrFragmentOutOfRange, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	case errors.Is(err, ErrNotFound):
		return wire.ReadFragmentAck{AckType: wire.FragmentBreak, SyncError: wire.ErrBlobNotFound, StreamHandle: req.StreamHandle, Offset: req.Offset}, nil
	default:
		return wire.ReadFragmentAck{}, err
	}

	if err := s.limiter.wait(ctx, owner.UNSID, owner.Quota, len(content)); err != nil {
		return wire.ReadFragmentAck{}, err
	}
	if s.metrics != nil {
		s.metrics.BytesReadTotal.Add(float64(len(content)))
	}

	blob, _, err := s.blobs.Get(rh.BlobID)
	if err != nil {
		return wire.ReadFragmentAck{}, err
	}
	ackType := wire.FragmentContinue
	if req.Offset+1 >= blob.FragmentCount() {
		ackType = wire.FragmentNomore
	}
	return wire.ReadFragmentAck{
		AckType:      ackType,
		SyncError:    wire.ErrSuccess,
		StreamHandle: req.StreamHandle,
		Offset:       req.Offset,
		Content:      content,
	}, nil
}

// CloseInboxStream implements spec.md §4.2's close_inbox_stream.
func (s *Facade) CloseInboxStream(req wire.CloseInboxStream) (wire.CloseInboxStreamAck, error) {
	s.mu.Lock()
	rh, ok := s.readHandles[req.StreamHandle]
	if ok {
		delete(s.readHandles, req.StreamHandle)
	}
	s.mu.Unlock()
	if !ok {
		return wire.CloseInboxStreamAck{StreamHandle: req.StreamHandle, SyncError: wire.ErrResource}, nil
	}

	if req.MarkAsRead {
		if err := s.timelines.AdvanceCursor(rh.Owner, rh.ClientID, rh.EntryOffset); err != nil {
			return wire.CloseInboxStreamAck{}, err
		}
	}
	return wire.CloseInboxStreamAck{StreamHandle: req.StreamHandle, SyncError: wire.ErrSuccess}, nil
}

// Close releases the underlying KV handle.
func (s *Facade) Close() error {
	return s.kv.Close()
}
