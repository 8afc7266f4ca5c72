package zippick

import (
	"context"

	"github.com/nguyengg/zippick/zipscan"
)

// List enumerates the members of the remote archive.
//
// Exactly two range fetches hit the source: the trailing window that holds the EOCD, and the central directory
// itself. The returned records appear in central directory order; their indices are what Download's selection
// refers to.
func List(ctx context.Context, src Source, optFns ...func(*Options)) ([]zipscan.Record, error) {
	opts := newOptions(optFns)

	r, err := opts.open(ctx, src)
	if err != nil {
		return nil, err
	}

	_, records, err := zipscan.ScanCentralDirectory(r, r.Size())
	return records, err
}
