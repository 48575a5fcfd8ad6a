package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the minimum fragment size before at-rest
// compression is attempted; small fragments rarely compress well enough
// to be worth the CPU, and inline-stream uploads are typically tiny.
const compressThreshold = 256

// Storage byte markers prefixed to each persisted fragment so a reader
// doesn't need out-of-band state to know whether it was compressed.
const (
	fragmentPlain      byte = 0x00
	fragmentZstd       byte = 0x01
	fragmentHeaderSize      = 1
)

// fragmentCodec compresses fragment bytes before they reach the KV
// backend and decompresses them on read. Grounded on the teacher's use of
// github.com/klauspost/compress for backup payload compression
// (internal/protocol's CompressionZstd mode); here it is an at-rest
// storage optimization rather than a wire-negotiated mode, so it never
// changes what a reader observes over the sync protocol.
type fragmentCodec struct {
	encoderMu sync.Mutex
	encoder   *zstd.Encoder
	decoderMu sync.Mutex
	decoder   *zstd.Decoder
}

func newFragmentCodec() (*fragmentCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("storage: constructing zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: constructing zstd decoder: %w", err)
	}
	return &fragmentCodec{encoder: enc, decoder: dec}, nil
}

// Encode returns the bytes to persist for a fragment: a one-byte marker
// followed by the (possibly compressed) content.
func (c *fragmentCodec) Encode(content []byte) []byte {
	if len(content) < compressThreshold {
		out := make([]byte, 0, fragmentHeaderSize+len(content))
		out = append(out, fragmentPlain)
		return append(out, content...)
	}

	c.encoderMu.Lock()
	compressed := c.encoder.EncodeAll(content, make([]byte, 0, len(content)))
	c.encoderMu.Unlock()

	if len(compressed) >= len(content) {
		out := make([]byte, 0, fragmentHeaderSize+len(content))
		out = append(out, fragmentPlain)
		return append(out, content...)
	}
	out := make([]byte, 0, fragmentHeaderSize+len(compressed))
	out = append(out, fragmentZstd)
	return append(out, compressed...)
}

// Decode reverses Encode, returning the original fragment content.
func (c *fragmentCodec) Decode(stored []byte) ([]byte, error) {
	if len(stored) < fragmentHeaderSize {
		return nil, fmt.Errorf("storage: stored fragment too short")
	}
	marker, body := stored[0], stored[1:]
	switch marker {
	case fragmentPlain:
		return body, nil
	case fragmentZstd:
		c.decoderMu.Lock()
		out, err := c.decoder.DecodeAll(body, nil)
		c.decoderMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("storage: decompressing fragment: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storage: unknown fragment marker 0x%02x", marker)
	}
}
