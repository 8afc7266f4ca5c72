// Package zippick lists and extracts individual members of remote ZIP archives without downloading the archives.
//
// The ZIP format keeps its table of contents (the central directory) at the end of the file, so against any source
// that supports byte-range requests the trailer alone is enough to enumerate members, and each member can then be
// fetched with one small ranged GET of its local header plus one of its compressed payload. Selected members are
// re-packaged into a fresh archive streamed to the caller; the original archive is never transferred in full.
//
// Sources are http(s) URLs (see httprange) or s3://bucket/key URIs (see s3range).
package zippick

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nguyengg/zippick/httprange"
	"github.com/nguyengg/zippick/s3range"
	"github.com/nguyengg/zippick/zipscan"
	"golang.org/x/time/rate"
)

// DefaultConcurrency is the default number of members being fetched and verified in parallel within one job.
const DefaultConcurrency = 4

// Ranger is a random-access view of one remote archive.
//
// Size returns the total size discovered by the probe that created the Ranger, or -1 before any probe succeeded.
type Ranger interface {
	io.ReaderAt
	Size() int64
}

// Source identifies one remote archive plus the authentication hints to reach it.
//
// A Source is immutable for the lifetime of a request.
type Source struct {
	// URL is an http(s) URL or an s3://bucket/key URI.
	URL string
	// Cookies, when non-empty, is sent verbatim as a single Cookie header. Ignored for S3 sources.
	Cookies string
	// ImpersonateBrowser sends a browser User-Agent on every outbound request. Ignored for S3 sources.
	ImpersonateBrowser bool
}

// Options customises List and Download.
type Options struct {
	// HTTPClient is the client shared by all range requests of one job.
	//
	// By default, http.DefaultClient is used. Redirect following and connection reuse come from this client.
	HTTPClient *http.Client

	// NewS3ClientFn creates the S3 client for s3:// sources.
	//
	// By default, the client comes from the default AWS config chain. The function is only invoked when the
	// source actually is an S3 URI.
	NewS3ClientFn func(ctx context.Context) (s3range.Client, error)

	// Limiter, when non-nil, gates every outbound range request.
	Limiter *rate.Limiter

	// Logger receives per-member skip messages during Download.
	//
	// By default, messages are discarded.
	Logger *log.Logger

	// Records, when non-nil, is a previously parsed central directory (e.g. from a cache) that Download uses
	// instead of re-fetching the archive trailer.
	Records []zipscan.Record

	// Concurrency is the number of members fetched and verified in parallel within one Download job.
	//
	// Default to DefaultConcurrency. Output order is always the selection order regardless.
	Concurrency int
}

func newOptions(optFns []func(*Options)) *Options {
	opts := &Options{
		HTTPClient:  http.DefaultClient,
		Logger:      log.New(io.Discard, "", 0),
		Concurrency: DefaultConcurrency,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return opts
}

// open turns the source into a probed Ranger.
func (opts *Options) open(ctx context.Context, src Source) (Ranger, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source URL error: %w", err)
	}

	if u.Scheme == "s3" {
		newClientFn := opts.NewS3ClientFn
		if newClientFn == nil {
			newClientFn = defaultS3Client
		}
		client, err := newClientFn(ctx)
		if err != nil {
			return nil, fmt.Errorf("create S3 client error: %w", err)
		}

		r := s3range.New(client, u.Host, strings.TrimPrefix(u.Path, "/"), func(o *s3range.Options) {
			o.CtxFn = func() context.Context { return ctx }
		})
		if _, err = r.Probe(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}

	r := httprange.New(opts.HTTPClient, src.URL, func(o *httprange.Options) {
		o.CtxFn = func() context.Context { return ctx }
		o.Cookies = src.Cookies
		o.ImpersonateBrowser = src.ImpersonateBrowser
		o.Limiter = opts.Limiter
	})
	if _, err = r.Probe(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func defaultS3Client(ctx context.Context) (s3range.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config error: %w", err)
	}

	return s3.NewFromConfig(cfg), nil
}
