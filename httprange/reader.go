// Package httprange turns an HTTP URL on a server that honors byte-range requests into a random-access byte source.
//
// A Reader issues one HEAD request to discover the total size of the remote file, then serves every ReadAt call with
// a single `Range: bytes=start-end` GET. It never buffers beyond the requested slice, so callers control exactly how
// many bytes travel over the wire.
package httprange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// BrowserUserAgent is sent as the User-Agent header when [Options.ImpersonateBrowser] is true.
//
// Some upstreams (file mirrors, cloud drives) refuse requests from non-browser agents; impersonating a current
// Chrome build is usually enough to get past them.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122 Safari/537.36"

var (
	// ErrUpstreamStatus is returned if the upstream responds to HEAD or GET with an unusable status code.
	ErrUpstreamStatus = errors.New("unexpected status from upstream")
	// ErrMissingContentLength is returned if the HEAD response has no usable Content-Length.
	ErrMissingContentLength = errors.New("upstream did not report a usable Content-Length")
)

// Options customises New.
type Options struct {
	// CtxFn returns a context.Context to be used with every outbound request.
	//
	// By default, context.Background is used. Handlers should plug in the inbound request's context so that a
	// client disconnect aborts in-flight range fetches.
	CtxFn func() context.Context

	// Cookies, when non-empty, is sent verbatim as a single Cookie header on every request.
	Cookies string

	// ImpersonateBrowser sends BrowserUserAgent as the User-Agent header on every request.
	ImpersonateBrowser bool

	// Limiter, when non-nil, gates every outbound request.
	//
	// The ZIP trailer dance produces many small GETs in quick succession; a shared limiter keeps the service a
	// polite client of upstreams that meter by request count.
	Limiter *rate.Limiter
}

// Reader uses ranged GETs to implement io.ReaderAt against a remote URL.
//
// Reader is safe for concurrent ReadAt calls; they share one underlying http.Client so connections are reused
// across the many small fetches of a single job.
type Reader struct {
	client             *http.Client
	url                string
	ctxFn              func() context.Context
	cookies            string
	impersonateBrowser bool
	limiter            *rate.Limiter

	// size is -1 until Probe succeeds.
	size int64
}

// New returns a Reader for the given URL.
//
// The client is shared, not owned; pass http.DefaultClient if there is nothing better around. The remote size is
// unknown until Probe is called.
func New(client *http.Client, url string, optFns ...func(*Options)) *Reader {
	opts := &Options{
		CtxFn: context.Background,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return &Reader{
		client:             client,
		url:                url,
		ctxFn:              opts.CtxFn,
		cookies:            opts.Cookies,
		impersonateBrowser: opts.ImpersonateBrowser,
		limiter:            opts.Limiter,
		size:               -1,
	}
}

// Probe issues a HEAD request to discover and cache the total size of the remote file.
//
// Returns ErrUpstreamStatus if the status is not 200, ErrMissingContentLength if the response carries no positive
// Content-Length. Redirects are followed by the underlying client.
func (r *Reader) Probe(ctx context.Context) (int64, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create HEAD request error: %w", err)
	}
	r.decorate(req)

	res, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD error: %w", err)
	}
	_ = res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HEAD returns %s", ErrUpstreamStatus, res.Status)
	}
	if res.ContentLength <= 0 {
		return 0, ErrMissingContentLength
	}

	r.size = res.ContentLength
	return r.size, nil
}

// Size returns the total size cached by the last successful Probe, or -1 if Probe has not been called.
func (r *Reader) Size() int64 {
	return r.size
}

// ReadAt implements io.ReaderAt with a single `Range: bytes=off-(off+len(p)-1)` GET.
//
// Both 206 and 200 responses are accepted: some servers ignore Range and return the whole file, in which case the
// first off bytes of the body are discarded so that p still receives the requested slice.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	ctx := r.ctxFn()
	if err = r.wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create GET request error: %w", err)
	}
	r.decorate(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	res, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ranged GET error: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusPartialContent:
		// body starts at off.
	case http.StatusOK:
		// server ignored the range; body starts at 0.
		if _, err = io.CopyN(io.Discard, res.Body, off); err != nil {
			return 0, fmt.Errorf("discard leading bytes of full response error: %w", err)
		}
	default:
		return 0, fmt.Errorf("%w: ranged GET returns %s", ErrUpstreamStatus, res.Status)
	}

	n, err = io.ReadFull(res.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		// short read past the end of the remote file; io.ReaderAt wants io.EOF here.
		return n, io.EOF
	}
	return n, err
}

func (r *Reader) decorate(req *http.Request) {
	if r.cookies != "" {
		req.Header.Set("Cookie", r.cookies)
	}
	if r.impersonateBrowser {
		req.Header.Set("User-Agent", BrowserUserAgent)
	}
}

func (r *Reader) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for outbound request slot error: %w", err)
	}
	return nil
}
