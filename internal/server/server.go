// Package server is the HTTP surface of zippick: two JSON endpoints to list and selectively download members of
// remote ZIP archives.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nguyengg/zippick"
	"github.com/nguyengg/zippick/httprange"
	"github.com/nguyengg/zippick/s3range"
	"github.com/nguyengg/zippick/zipscan"
	"golang.org/x/time/rate"
)

// Options customises New.
type Options struct {
	// Logger receives request-level messages.
	//
	// By default, messages go to stderr.
	Logger *log.Logger

	// HTTPClient is shared by the range requests of all jobs.
	HTTPClient *http.Client

	// CacheSize bounds the central directory cache; 0 disables caching entirely.
	CacheSize int

	// CacheTTL is how long a cached central directory stays usable. Default to one minute.
	CacheTTL time.Duration

	// MaxRequestsPerSecond, when positive, rate-limits outbound range requests across all jobs.
	MaxRequestsPerSecond float64

	// Concurrency is passed through to zippick.Download; 0 uses zippick.DefaultConcurrency.
	Concurrency int
}

// Server handles the list-files and download_files endpoints.
type Server struct {
	logger      *log.Logger
	client      *http.Client
	cache       cdCache
	limiter     *rate.Limiter
	concurrency int
}

// New returns a Server with customisation options.
func New(optFns ...func(*Options)) *Server {
	opts := &Options{
		Logger:     log.New(os.Stderr, "", log.LstdFlags),
		HTTPClient: http.DefaultClient,
		CacheSize:  64,
		CacheTTL:   time.Minute,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	s := &Server{
		logger:      opts.Logger,
		client:      opts.HTTPClient,
		concurrency: opts.Concurrency,
	}
	if opts.CacheSize > 0 {
		s.cache = cdCache{lru: expirable.NewLRU[string, []zipscan.Record](opts.CacheSize, nil, opts.CacheTTL)}
	}
	if opts.MaxRequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxRequestsPerSecond), int(opts.MaxRequestsPerSecond)+1)
	}

	return s
}

// Handler returns the root handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/list-files", s.allowCORS(s.handleListFiles))
	mux.HandleFunc("/download_files", s.allowCORS(s.handleDownloadFiles))
	return mux
}

type listRequest struct {
	URL     string `json:"url"`
	Cookies string `json:"cookies"`
	UseUA   bool   `json:"use_ua"`
}

type downloadRequest struct {
	URL     string `json:"url"`
	Cookies string `json:"cookies"`
	UseUA   bool   `json:"use_ua"`
	Files   []int  `json:"files"`
}

type memberInfo struct {
	Filename          string `json:"filename"`
	CompressType      uint16 `json:"compress_type"`
	CompressedSize    uint32 `json:"compressed_size"`
	UncompressedSize  uint32 `json:"uncompressed_size"`
	LocalHeaderOffset uint32 `json:"local_header_offset"`
	Encrypted         bool   `json:"encrypted"`
	CRC32             uint32 `json:"crc32"`
	Modified          string `json:"modified"`
}

type listResponse struct {
	Status string       `json:"status"`
	Files  []memberInfo `json:"files"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, "Server is working!")
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body error: %w", err))
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	src := zippick.Source{URL: req.URL, Cookies: req.Cookies, ImpersonateBrowser: req.UseUA}

	records, ok := s.cache.get(src)
	if !ok {
		var err error
		if records, err = zippick.List(r.Context(), src, s.jobOptions); err != nil {
			s.logger.Printf(`list "%s" error: %v`, req.URL, err)
			s.writeError(w, statusFor(err), err)
			return
		}
		s.cache.add(src, records)
	}

	files := make([]memberInfo, len(records))
	var compressed uint64
	for i, rec := range records {
		files[i] = memberInfo{
			Filename:          rec.Name,
			CompressType:      rec.Method,
			CompressedSize:    rec.CompressedSize,
			UncompressedSize:  rec.UncompressedSize,
			LocalHeaderOffset: rec.Offset,
			Encrypted:         rec.Encrypted(),
			CRC32:             rec.CRC32,
			Modified:          rec.Modified().Format(time.RFC3339),
		}
		compressed += uint64(rec.CompressedSize)
	}

	s.logger.Printf(`listed %d members of "%s" (%s compressed)`, len(files), req.URL, humanize.IBytes(compressed))
	s.writeJSON(w, http.StatusOK, listResponse{Status: "ok", Files: files})
}

func (s *Server) handleDownloadFiles(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body error: %w", err))
		return
	}
	switch {
	case req.URL == "":
		s.writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	case len(req.Files) == 0:
		s.writeError(w, http.StatusBadRequest, errors.New("files selection is required"))
		return
	}

	src := zippick.Source{URL: req.URL, Cookies: req.Cookies, ImpersonateBrowser: req.UseUA}

	jobOptions := func(opts *zippick.Options) {
		s.jobOptions(opts)
		opts.Logger = s.logger
		if records, ok := s.cache.get(src); ok {
			opts.Records = records
		}
	}

	// the archive streams, so the response status is committed at the first write; global errors that occur
	// before then still produce a clean JSON error.
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="selected_files.zip"`)
	cw := &countingResponseWriter{ResponseWriter: w}

	result, err := zippick.Download(r.Context(), src, req.Files, cw, jobOptions)
	if err != nil {
		s.logger.Printf(`download from "%s" error: %v`, req.URL, err)
		if cw.written == 0 {
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			s.writeError(w, statusFor(err), err)
		}
		return
	}

	s.logger.Printf(`downloaded %d of %d selected members from "%s" (%s)`,
		result.MembersWritten, len(req.Files), req.URL, humanize.IBytes(uint64(cw.written)))
}

// jobOptions applies the server-wide settings to one zippick job.
func (s *Server) jobOptions(opts *zippick.Options) {
	opts.HTTPClient = s.client
	opts.Limiter = s.limiter
	if s.concurrency > 0 {
		opts.Concurrency = s.concurrency
	}
}

// allowCORS lets browser UIs on any origin call the JSON endpoints.
func (s *Server) allowCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			next(w, r)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s is not allowed", r.Method))
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("encode response error: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Status: "error", Message: err.Error()})
}

// statusFor maps job errors to response statuses: anything attributable to the caller's URL or the upstream's
// archive is a 400, everything else a 500.
func statusFor(err error) int {
	for _, bad := range []error{
		zippick.ErrInvalidSelection,
		httprange.ErrUpstreamStatus,
		httprange.ErrMissingContentLength,
		s3range.ErrMissingContentLength,
		zipscan.ErrEOCDNotFound,
		zipscan.ErrEOCDTruncated,
		zipscan.ErrCDSizeMismatch,
		zipscan.ErrCDCorrupt,
		zipscan.ErrUnsupported,
	} {
		if errors.Is(err, bad) {
			return http.StatusBadRequest
		}
	}

	return http.StatusInternalServerError
}

type countingResponseWriter struct {
	http.ResponseWriter
	written int64
}

func (w *countingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}
