package zippick

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zippick/zipscan"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/errgroup"
)

// SkippedMember describes one selected member that was left out of the output archive.
type SkippedMember struct {
	// Index is the member's position in the selection, not in the archive.
	Index int
	// Name is the member's filename.
	Name string
	// Err is the per-member failure; classify with errors.Is against zipscan.ErrLocalHeaderCorrupt,
	// ErrPayloadSizeMismatch and ErrDecompressMismatch.
	Err error
}

// DownloadResult summarises one finished Download job.
type DownloadResult struct {
	// MembersWritten is the number of members actually present in the output archive.
	MembersWritten int
	// Skipped lists the selected members that failed extraction and were omitted.
	Skipped []SkippedMember
}

// Download streams a new ZIP archive containing the selected members of the remote archive to w.
//
// The selection is a list of indices into the archive's central directory, in the order the members should appear
// in the output; duplicates are allowed and produce duplicate entries. Members are fetched and verified with up to
// [Options.Concurrency] parallel range fetches, then written in selection order.
//
// Per-member failures (corrupt local header, truncated payload, bad deflate stream) skip that member and are
// reported in the result; they never fail the job. Global failures (unreachable source, unparseable central
// directory, invalid selection, write errors on w) do.
//
// Extracted members keep their original compression method and compressed bytes; deflate and stored members are
// verified against their declared sizes and CRC-32 before being admitted. Encrypted members are passed through
// byte-exact with their method, sizes, checksum and encryption flag preserved, so password-capable tools can still
// open them from the output archive.
func Download(ctx context.Context, src Source, selection []int, w io.Writer, optFns ...func(*Options)) (DownloadResult, error) {
	var result DownloadResult
	opts := newOptions(optFns)

	r, err := opts.open(ctx, src)
	if err != nil {
		return result, err
	}

	records := opts.Records
	if records == nil {
		if _, records, err = zipscan.ScanCentralDirectory(r, r.Size()); err != nil {
			return result, err
		}
	}

	if len(selection) == 0 {
		return result, fmt.Errorf("%w: no members selected", ErrInvalidSelection)
	}
	for _, i := range selection {
		if i < 0 || i >= len(records) {
			return result, fmt.Errorf("%w: index %d not in [0, %d)", ErrInvalidSelection, i, len(records))
		}
	}

	// fetch and verify in parallel; the slots keep selection order for the writer.
	type slot struct {
		rec     zipscan.Record
		payload *bytebufferpool.ByteBuffer
		err     error
	}
	slots := make([]slot, len(selection))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))
	for i, idx := range selection {
		i, rec := i, records[idx]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			payload, err := extractMember(r, rec)
			slots[i] = slot{rec: rec, payload: payload, err: err}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		for i := range slots {
			if slots[i].payload != nil {
				bytebufferpool.Put(slots[i].payload)
			}
		}
		return result, err
	}

	zw := zip.NewWriter(w)
	for i, s := range slots {
		if s.err != nil {
			opts.Logger.Printf(`skipping "%s" (%s compressed): %v`, s.rec.Name, humanize.IBytes(uint64(s.rec.CompressedSize)), s.err)
			result.Skipped = append(result.Skipped, SkippedMember{Index: i, Name: s.rec.Name, Err: s.err})
			continue
		}

		fw, err := zw.CreateRaw(headerFromRecord(s.rec))
		if err == nil {
			_, err = fw.Write(s.payload.B)
		}
		bytebufferpool.Put(s.payload)
		if err != nil {
			return result, fmt.Errorf(`write member "%s" error: %w`, s.rec.Name, err)
		}

		result.MembersWritten++
	}

	if err = zw.Close(); err != nil {
		return result, fmt.Errorf("finalise output archive error: %w", err)
	}

	return result, nil
}

// headerFromRecord synthesizes the output file header for one member, carrying over the original method, sizes,
// checksum, flags and metadata so that the raw compressed bytes remain valid under the new archive's directory.
func headerFromRecord(rec zipscan.Record) *zip.FileHeader {
	return &zip.FileHeader{
		Name:               rec.Name,
		Comment:            string(rec.Comment),
		CreatorVersion:     rec.CreatorVersion,
		ReaderVersion:      rec.ReaderVersion,
		Flags:              rec.Flags,
		Method:             rec.Method,
		Modified:           rec.Modified(),
		ModifiedTime:       rec.ModifiedTime,
		ModifiedDate:       rec.ModifiedDate,
		CRC32:              rec.CRC32,
		CompressedSize64:   uint64(rec.CompressedSize),
		UncompressedSize64: uint64(rec.UncompressedSize),
		Extra:              rec.Extra,
		ExternalAttrs:      rec.ExternalAttrs,
	}
}
