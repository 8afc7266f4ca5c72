package zippick

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/nguyengg/zippick/zipscan"
	"github.com/valyala/bytebufferpool"
)

// zip compression methods this module understands; anything else is carried opaquely.
const (
	methodStored  = 0
	methodDeflate = 8
)

// extractMember fetches one member's compressed payload and verifies it against the central directory record.
//
// The returned buffer holds exactly the payload bytes as stored in the archive; the caller owns it and must return
// it to bytebufferpool. On error the buffer has already been returned.
func extractMember(r Ranger, rec zipscan.Record) (*bytebufferpool.ByteBuffer, error) {
	payloadStart, err := zipscan.ResolvePayloadOffset(r, rec)
	if err != nil {
		return nil, err
	}

	if size := r.Size(); size >= 0 && payloadStart+int64(rec.CompressedSize) > size {
		return nil, fmt.Errorf("%w: payload [%d, %d) extends past end of %d-byte archive",
			zipscan.ErrLocalHeaderCorrupt, payloadStart, payloadStart+int64(rec.CompressedSize), size)
	}

	bb := bytebufferpool.Get()
	if cap(bb.B) < int(rec.CompressedSize) {
		bb.B = make([]byte, rec.CompressedSize)
	}
	bb.B = bb.B[:rec.CompressedSize]

	if rec.CompressedSize > 0 {
		switch n, err := r.ReadAt(bb.B, payloadStart); {
		case err != nil && !errors.Is(err, io.EOF):
			bytebufferpool.Put(bb)
			return nil, fmt.Errorf(`fetch payload of "%s" error: %w`, rec.Name, err)
		case n != int(rec.CompressedSize):
			bytebufferpool.Put(bb)
			return nil, fmt.Errorf(`fetch payload of "%s" error: want %d bytes, got %d`, rec.Name, rec.CompressedSize, n)
		}
	}

	if err = verifyMember(rec, bb.B); err != nil {
		bytebufferpool.Put(bb)
		return nil, err
	}

	return bb, nil
}

// verifyMember checks the fetched payload against the record's declared sizes and checksum.
//
// Encrypted members cannot be verified without the password and are accepted as-is; so are members with unknown
// compression methods.
func verifyMember(rec zipscan.Record, payload []byte) error {
	if rec.Encrypted() {
		return nil
	}

	switch rec.Method {
	case methodStored:
		if rec.CompressedSize != rec.UncompressedSize {
			return fmt.Errorf("%w: stored sizes %d != %d", ErrPayloadSizeMismatch, rec.CompressedSize, rec.UncompressedSize)
		}
		if sum := crc32.ChecksumIEEE(payload); sum != rec.CRC32 {
			return fmt.Errorf("%w: CRC-32 0x%08x, declared 0x%08x", ErrPayloadSizeMismatch, sum, rec.CRC32)
		}
		return nil

	case methodDeflate:
		fr := flate.NewReader(bytes.NewReader(payload))
		defer fr.Close()

		h := crc32.NewIEEE()
		n, err := io.Copy(h, fr)
		switch {
		case err != nil:
			return fmt.Errorf("%w: %v", ErrDecompressMismatch, err)
		case n != int64(rec.UncompressedSize):
			return fmt.Errorf("%w: inflates to %d bytes, declared %d", ErrDecompressMismatch, n, rec.UncompressedSize)
		case h.Sum32() != rec.CRC32:
			return fmt.Errorf("%w: CRC-32 0x%08x, declared 0x%08x", ErrDecompressMismatch, h.Sum32(), rec.CRC32)
		}
		return nil

	default:
		// opaque method; carried through with its original method recorded.
		return nil
	}
}
