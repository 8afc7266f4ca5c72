package zipscan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ResolvePayloadOffset computes the absolute offset of a member's compressed payload.
//
// The name and extra lengths of the local file header frequently differ from the central directory's values (many
// writers put the ZIP64 or timestamp extra only on one side), so the payload offset cannot be derived from the
// Record alone; the 30-byte local header at Record.Offset has to be fetched and its own lengths used.
func ResolvePayloadOffset(src io.ReaderAt, rec Record) (int64, error) {
	var b [localHeaderLen]byte

	switch n, err := src.ReadAt(b[:], int64(rec.Offset)); {
	case err != nil && !errors.Is(err, io.EOF):
		return 0, fmt.Errorf("read local file header error: %w", err)
	case n != localHeaderLen:
		return 0, fmt.Errorf("%w: want %d bytes at offset %d, got %d", ErrLocalHeaderCorrupt, localHeaderLen, rec.Offset, n)
	}

	if sig := binary.LittleEndian.Uint32(b[:4]); sig != sigLocalHeader {
		return 0, fmt.Errorf("%w: signature 0x%08x at offset %d, expected 0x%08x", ErrLocalHeaderCorrupt, sig, rec.Offset, uint32(sigLocalHeader))
	}

	nameLen := int64(binary.LittleEndian.Uint16(b[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(b[28:30]))
	return int64(rec.Offset) + localHeaderLen + nameLen + extraLen, nil
}
