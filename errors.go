package zippick

import "errors"

var (
	// ErrInvalidSelection is returned by Download if the selection is empty or names an index outside the
	// archive's member range.
	ErrInvalidSelection = errors.New("selection is empty or out of range")
	// ErrPayloadSizeMismatch marks a stored member whose payload length disagrees with its declared
	// uncompressed size. Per-member: the member is skipped, the job continues.
	ErrPayloadSizeMismatch = errors.New("stored member payload length does not match declared size")
	// ErrDecompressMismatch marks a deflate member whose stream is truncated or corrupt: it either does not
	// inflate to the declared uncompressed size or fails the CRC-32 check. Per-member: the member is skipped.
	ErrDecompressMismatch = errors.New("deflate stream does not match declared size or checksum")
)
