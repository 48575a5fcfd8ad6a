package storage

import "errors"

// Sentinel errors returned by BlobStore and TimelineStore. facade.go maps
// these onto the wire.SyncError taxonomy; keeping them defined here lets
// the lower layers stay free of the wire package.
var (
	ErrNotFound      = errors.New("storage: blob not found")
	ErrSequence      = errors.New("storage: fragment offset out of sequence")
	ErrHashMismatch  = errors.New("storage: fragment content does not match declared hash")
	ErrOutOfRange    = errors.New("storage: fragment offset out of range")
	ErrIncomplete    = errors.New("storage: blob is not yet fully written")
	ErrNotReady      = errors.New("storage: fragment has not been received yet")
	ErrQuotaExceeded = errors.New("storage: account quota exceeded")
	ErrNoHeadroom    = errors.New("storage: host is low on disk space")
	ErrUnknownHandle = errors.New("storage: unknown stream handle")
	ErrEmptyInbox    = errors.New("storage: no more unread messages")
)
