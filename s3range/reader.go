// Package s3range is the S3 counterpart of httprange: ranged GetObject calls exposed as io.ReaderAt.
//
// It exists so that `s3://bucket/key` sources go through the exact same ZIP pipeline as plain HTTP URLs.
package s3range

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client abstracts the S3 API needed by Reader.
type Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ErrMissingContentLength is returned by Probe if HeadObject reports no positive ContentLength.
var ErrMissingContentLength = errors.New("S3 object has no usable ContentLength")

// Options customises New.
type Options struct {
	// CtxFn returns a context.Context to be used with every GetObject call.
	//
	// By default, context.Background is used.
	CtxFn func() context.Context

	// ModifyGetObjectInput can be used to modify the GetObject input parameters such as adding ExpectedBucketOwner.
	ModifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput
}

// Reader uses ranged GetObject to implement io.ReaderAt against one S3 object.
//
// Reader is safe for concurrent ReadAt calls.
type Reader struct {
	client               Client
	bucket, key          string
	ctxFn                func() context.Context
	modifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput
	size                 int64
}

// New returns a Reader for the given bucket and key.
//
// The object size is unknown until Probe is called.
func New(client Client, bucket, key string, optFns ...func(*Options)) *Reader {
	opts := &Options{
		CtxFn: context.Background,
		ModifyGetObjectInput: func(input *s3.GetObjectInput) *s3.GetObjectInput {
			return input
		},
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return &Reader{
		client:               client,
		bucket:               bucket,
		key:                  key,
		ctxFn:                opts.CtxFn,
		modifyGetObjectInput: opts.ModifyGetObjectInput,
		size:                 -1,
	}
}

// Probe issues a HeadObject call to discover and cache the total size of the object.
func (r *Reader) Probe(ctx context.Context) (int64, error) {
	headObjectOutput, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object error: %w", err)
	}
	if headObjectOutput.ContentLength == nil || *headObjectOutput.ContentLength <= 0 {
		return 0, ErrMissingContentLength
	}

	r.size = *headObjectOutput.ContentLength
	return r.size, nil
}

// Size returns the total size cached by the last successful Probe, or -1 if Probe has not been called.
func (r *Reader) Size() int64 {
	return r.size
}

// ReadAt implements io.ReaderAt with a single ranged GetObject call.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	m := int64(len(p))
	if m == 0 {
		return 0, nil
	}

	getObjectOutput, err := r.client.GetObject(r.ctxFn(), r.modifyGetObjectInput(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+m-1)),
	}))
	if err != nil {
		return 0, fmt.Errorf("ranged get object error: %w", err)
	}

	n, err = io.ReadFull(getObjectOutput.Body, p)
	_ = getObjectOutput.Body.Close()
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return
}
