package wire

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrameSize caps a single encoded SyncMessage, guarding against a
// malformed or hostile length prefix driving an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024 // 64MB

// WriteMessage frames msg with a varint length prefix (the same base-128
// varint protobuf itself uses for LEN-type fields) and writes it to w.
// This generalizes the teacher's per-message magic-byte framing
// (internal/protocol) into one uniform envelope.
func WriteMessage(w io.Writer, msg *SyncMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	var prefix []byte
	prefix = protowire.AppendVarint(prefix, uint64(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("wire: writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return nil
}

// ReadMessage reads one varint-length-prefixed SyncMessage from r.
func ReadMessage(r *bufio.Reader) (*SyncMessage, error) {
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading frame body: %w", err)
	}
	return Decode(body)
}

// readUvarint reads a base-128 varint byte-by-byte, matching the encoding
// protowire.AppendVarint produces (standard protobuf varint, not Go's
// encoding/binary.Uvarint, though the two are bit-compatible).
func readUvarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("wire: reading frame length: %w", err)
		}
		if b < 0x80 {
			if i == 9 && b > 1 {
				return 0, fmt.Errorf("wire: frame length varint overflow")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, fmt.Errorf("wire: frame length varint too long")
}
