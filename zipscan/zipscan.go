// Package zipscan parses the trailer of a ZIP archive (end-of-central-directory record plus central directory) from
// a random-access byte source, without ever touching the archive body.
//
// The source is any io.ReaderAt; in this module that is usually an httprange.Reader or s3range.Reader, so a scan
// costs exactly two ranged fetches: one for the trailing window that holds the EOCD, one for the central directory.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
package zipscan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
)

const (
	sigEOCD        = 0x06054b50
	sigCDFH        = 0x02014b50
	sigLocalHeader = 0x04034b50

	eocdLen        = 22
	cdHeaderLen    = 46
	localHeaderLen = 30

	// maxCommentLen bounds the EOCD comment; the EOCD of any well-formed non-ZIP64 archive therefore lives in the
	// last eocdLen+maxCommentLen bytes.
	maxCommentLen = 1 << 16

	zip64Sentinel = 0xffffffff
)

var (
	// ErrEOCDNotFound is returned if no EOCD signature exists in the trailing window; the source is most likely
	// not a ZIP file.
	ErrEOCDNotFound = errors.New("end of central directory not found; most likely not a ZIP file")
	// ErrEOCDTruncated is returned if an EOCD signature is found with fewer than 22 bytes following it.
	ErrEOCDTruncated = errors.New("end of central directory truncated")
	// ErrCDSizeMismatch is returned if the central directory fetch yields fewer bytes than the EOCD promised.
	ErrCDSizeMismatch = errors.New("central directory shorter than its declared size")
	// ErrCDCorrupt is returned if the central directory does not parse into exactly the declared number of
	// records consuming exactly the declared number of bytes.
	ErrCDCorrupt = errors.New("central directory is corrupt")
	// ErrUnsupported is returned for multi-disk and ZIP64 archives.
	ErrUnsupported = errors.New("multi-disk and ZIP64 archives are not supported")
	// ErrLocalHeaderCorrupt is returned by ResolvePayloadOffset if the local file header has a bad signature.
	ErrLocalHeaderCorrupt = errors.New("local file header is corrupt")
)

var eocdSigBytes = make([]byte, 4)

func init() {
	binary.LittleEndian.PutUint32(eocdSigBytes, sigEOCD)
}

// EOCDRecord models the end of central directory record of a ZIP file.
type EOCDRecord struct {
	// DiskNumber is the number of this disk.
	DiskNumber uint16
	// CDStartDisk is the disk where the central directory starts.
	CDStartDisk uint16
	// CDCountOnDisk is the number of central directory records on this disk.
	CDCountOnDisk uint16
	// CDCount is the total number of central directory records.
	CDCount uint16
	// CDSize is the size of the central directory in bytes.
	CDSize uint32
	// CDOffset is the offset of the start of the central directory, relative to start of archive.
	CDOffset uint32
	// CommentLen is the declared length of the archive comment that follows the record.
	CommentLen uint16
}

// Record is one central directory file header.
type Record struct {
	// Name is the member's filename, decoded as UTF-8 with replacement of invalid bytes. Path separators are
	// preserved as-is.
	Name string
	// CreatorVersion is the version-made-by field.
	CreatorVersion uint16
	// ReaderVersion is the minimum version needed to extract.
	ReaderVersion uint16
	// Flags is the general purpose bit flag; bit 0 marks an encrypted member.
	Flags uint16
	// Method is the compression method; 0 is stored, 8 is deflate, anything else is carried opaquely.
	Method uint16
	// ModifiedTime is the MS-DOS modification time.
	ModifiedTime uint16
	// ModifiedDate is the MS-DOS modification date.
	ModifiedDate uint16
	// CRC32 is the checksum of the uncompressed content.
	CRC32 uint32
	// CompressedSize is the size of the member's payload as stored in the archive.
	CompressedSize uint32
	// UncompressedSize is the size of the member's content after decompression.
	UncompressedSize uint32
	// DiskNumber is the disk number where the member starts.
	DiskNumber uint16
	// InternalAttrs is the internal file attributes field.
	InternalAttrs uint16
	// ExternalAttrs is the external file attributes field.
	ExternalAttrs uint32
	// Offset is the absolute offset of the member's local file header.
	Offset uint32
	// Extra is the raw extra field.
	Extra []byte
	// Comment is the raw file comment.
	Comment []byte
}

// Encrypted reports whether bit 0 of the general purpose flag is set.
func (r Record) Encrypted() bool {
	return r.Flags&1 != 0
}

// Modified converts the MS-DOS date and time fields into a time.Time with 2-second resolution.
func (r Record) Modified() time.Time {
	return msDosTimeToTime(r.ModifiedDate, r.ModifiedTime)
}

// ScanCentralDirectory locates the EOCD of the archive exposed by src and parses the full central directory.
//
// The EOCD is found by searching the trailing min(22+65536, size) bytes for the last occurrence of its signature,
// which is correct for any archive whose comment area does not itself contain the signature. Multi-disk archives
// and ZIP64 sentinels are rejected with ErrUnsupported.
func ScanCentralDirectory(src io.ReaderAt, size int64) (EOCDRecord, []Record, error) {
	r, err := findEOCD(src, size)
	if err != nil {
		return r, nil, err
	}

	switch {
	case r.DiskNumber != 0 || r.CDStartDisk != 0:
		return r, nil, fmt.Errorf("%w: archive spans %d disks", ErrUnsupported, r.DiskNumber+1)
	case r.CDSize == zip64Sentinel || r.CDOffset == zip64Sentinel:
		return r, nil, fmt.Errorf("%w: EOCD carries ZIP64 sentinel values", ErrUnsupported)
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if cap(bb.B) < int(r.CDSize) {
		bb.B = make([]byte, r.CDSize)
	}
	bb.B = bb.B[:r.CDSize]

	switch n, err := src.ReadAt(bb.B, int64(r.CDOffset)); {
	case err != nil && !errors.Is(err, io.EOF):
		return r, nil, fmt.Errorf("read central directory error: %w", err)
	case n != int(r.CDSize):
		return r, nil, fmt.Errorf("%w: want %d bytes, got %d", ErrCDSizeMismatch, r.CDSize, n)
	}

	records, err := parseCD(bb.B, int(r.CDCount))
	if err != nil {
		return r, nil, err
	}

	return r, records, nil
}

// findEOCD fetches the trailing window of the archive and parses the EOCD record at the last signature occurrence.
func findEOCD(src io.ReaderAt, size int64) (r EOCDRecord, err error) {
	if size < eocdLen {
		return r, fmt.Errorf("%w: %d-byte source cannot hold an EOCD", ErrEOCDNotFound, size)
	}

	tailLen := min(int64(eocdLen+maxCommentLen), size)
	tail := make([]byte, tailLen)

	switch n, err := src.ReadAt(tail, size-tailLen); {
	case err != nil && !errors.Is(err, io.EOF):
		return r, fmt.Errorf("read trailing window error: %w", err)
	case int64(n) != tailLen:
		return r, fmt.Errorf("read trailing window error: want %d bytes, got %d", tailLen, n)
	}

	i := bytes.LastIndex(tail, eocdSigBytes)
	if i == -1 {
		return r, ErrEOCDNotFound
	}
	if len(tail)-i < eocdLen {
		return r, fmt.Errorf("%w: only %d bytes after signature", ErrEOCDTruncated, len(tail)-i-4)
	}

	b := tail[i:]
	return EOCDRecord{
		DiskNumber:    binary.LittleEndian.Uint16(b[4:6]),
		CDStartDisk:   binary.LittleEndian.Uint16(b[6:8]),
		CDCountOnDisk: binary.LittleEndian.Uint16(b[8:10]),
		CDCount:       binary.LittleEndian.Uint16(b[10:12]),
		CDSize:        binary.LittleEndian.Uint32(b[12:16]),
		CDOffset:      binary.LittleEndian.Uint32(b[16:20]),
		CommentLen:    binary.LittleEndian.Uint16(b[20:22]),
	}, nil
}

// parseCD walks the raw central directory, which must contain exactly count records and nothing else.
func parseCD(cd []byte, count int) ([]Record, error) {
	records := make([]Record, 0, count)

	for len(cd) > 0 {
		if len(cd) < cdHeaderLen {
			return nil, fmt.Errorf("%w: %d stray bytes after record %d", ErrCDCorrupt, len(cd), len(records))
		}
		if sig := binary.LittleEndian.Uint32(cd[:4]); sig != sigCDFH {
			return nil, fmt.Errorf("%w: record %d has signature 0x%08x, expected 0x%08x", ErrCDCorrupt, len(records), sig, uint32(sigCDFH))
		}

		rec := Record{
			CreatorVersion:   binary.LittleEndian.Uint16(cd[4:6]),
			ReaderVersion:    binary.LittleEndian.Uint16(cd[6:8]),
			Flags:            binary.LittleEndian.Uint16(cd[8:10]),
			Method:           binary.LittleEndian.Uint16(cd[10:12]),
			ModifiedTime:     binary.LittleEndian.Uint16(cd[12:14]),
			ModifiedDate:     binary.LittleEndian.Uint16(cd[14:16]),
			CRC32:            binary.LittleEndian.Uint32(cd[16:20]),
			CompressedSize:   binary.LittleEndian.Uint32(cd[20:24]),
			UncompressedSize: binary.LittleEndian.Uint32(cd[24:28]),
			DiskNumber:       binary.LittleEndian.Uint16(cd[34:36]),
			InternalAttrs:    binary.LittleEndian.Uint16(cd[36:38]),
			ExternalAttrs:    binary.LittleEndian.Uint32(cd[38:42]),
			Offset:           binary.LittleEndian.Uint32(cd[42:46]),
		}

		n := int(binary.LittleEndian.Uint16(cd[28:30]))
		m := int(binary.LittleEndian.Uint16(cd[30:32]))
		k := int(binary.LittleEndian.Uint16(cd[32:34]))
		if len(cd) < cdHeaderLen+n+m+k {
			return nil, fmt.Errorf("%w: record %d needs %d bytes of name/extra/comment, only %d remain", ErrCDCorrupt, len(records), n+m+k, len(cd)-cdHeaderLen)
		}

		tail := cd[cdHeaderLen:]
		rec.Name = strings.ToValidUTF8(string(tail[:n]), "�")
		rec.Extra = bytes.Clone(tail[n : n+m])
		rec.Comment = bytes.Clone(tail[n+m : n+m+k])

		records = append(records, rec)
		cd = cd[cdHeaderLen+n+m+k:]
	}

	if len(records) != count {
		return nil, fmt.Errorf("%w: EOCD declares %d records, central directory holds %d", ErrCDCorrupt, count, len(records))
	}

	return records, nil
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
//
// taken from https://go.dev/src/archive/zip/struct.go.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}
