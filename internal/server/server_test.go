package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	*httptest.Server
	requests atomic.Int64
}

// newUpstream serves the given archive bytes with range support, counting requests.
func newUpstream(t *testing.T, content []byte) *upstream {
	t.Helper()

	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		http.ServeContent(w, r, "archive.zip", time.Unix(0, 0), bytes.NewReader(content))
	}))
	t.Cleanup(u.Close)
	return u
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// map iteration order is fine here; tests that care about order use a single member.
	for name, body := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := httptest.NewServer(New().Handler())
	t.Cleanup(s.Close)
	return s
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestServer_index(t *testing.T) {
	s := newTestServer(t)

	res, err := http.Get(s.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Server is working!", string(b))
}

func TestServer_listFiles(t *testing.T) {
	u := newUpstream(t, buildZip(t, map[string]string{"hello.txt": "hi\n"}))
	s := newTestServer(t)

	res := postJSON(t, s.URL+"/list-files", fmt.Sprintf(`{"url":%q}`, u.URL+"/archive.zip"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Status string `json:"status"`
		Files  []struct {
			Filename          string `json:"filename"`
			CompressType      uint16 `json:"compress_type"`
			CompressedSize    uint32 `json:"compressed_size"`
			UncompressedSize  uint32 `json:"uncompressed_size"`
			LocalHeaderOffset uint32 `json:"local_header_offset"`
			Encrypted         bool   `json:"encrypted"`
		} `json:"files"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Files, 1)
	assert.Equal(t, "hello.txt", body.Files[0].Filename)
	assert.EqualValues(t, zip.Deflate, body.Files[0].CompressType)
	assert.EqualValues(t, 3, body.Files[0].UncompressedSize)
	assert.False(t, body.Files[0].Encrypted)
}

func TestServer_listFiles_badRequest(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty url", body: `{"url":""}`},
		{name: "missing url", body: `{}`},
		{name: "malformed json", body: `{"url":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, s.URL+"/list-files", tt.body)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)

			var body struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			assert.Equal(t, "error", body.Status)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestServer_listFiles_upstream404(t *testing.T) {
	u := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer u.Close()
	s := newTestServer(t)

	res := postJSON(t, s.URL+"/list-files", fmt.Sprintf(`{"url":%q}`, u.URL+"/gone.zip"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Message, "status")
}

func TestServer_listFiles_notAZip(t *testing.T) {
	u := newUpstream(t, []byte(strings.Repeat("plain text, no trailer here. ", 10)))
	s := newTestServer(t)

	res := postJSON(t, s.URL+"/list-files", fmt.Sprintf(`{"url":%q}`, u.URL))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestServer_downloadFiles(t *testing.T) {
	u := newUpstream(t, buildZip(t, map[string]string{"hello.txt": "hi\n"}))
	s := newTestServer(t)

	res := postJSON(t, s.URL+"/download_files", fmt.Sprintf(`{"url":%q,"files":[0]}`, u.URL+"/archive.zip"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="selected_files.zip"`, res.Header.Get("Content-Disposition"))

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "hello.txt", zr.File[0].Name)

	r, err := zr.File[0].Open()
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(content))
}

func TestServer_downloadFiles_badSelection(t *testing.T) {
	u := newUpstream(t, buildZip(t, map[string]string{"hello.txt": "hi\n"}))
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "no files", body: fmt.Sprintf(`{"url":%q}`, u.URL)},
		{name: "empty files", body: fmt.Sprintf(`{"url":%q,"files":[]}`, u.URL)},
		{name: "out of range", body: fmt.Sprintf(`{"url":%q,"files":[5]}`, u.URL)},
		{name: "negative", body: fmt.Sprintf(`{"url":%q,"files":[-1]}`, u.URL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, s.URL+"/download_files", tt.body)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
		})
	}
}

func TestServer_corsPreflight(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/list-files", "/download_files"} {
		req, err := http.NewRequest(http.MethodOptions, s.URL+path, nil)
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = res.Body.Close()

		assert.Equal(t, http.StatusNoContent, res.StatusCode)
		assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, res.Header.Get("Access-Control-Allow-Methods"), "POST")
	}
}

func TestServer_listCachesCentralDirectory(t *testing.T) {
	u := newUpstream(t, buildZip(t, map[string]string{"hello.txt": "hi\n"}))
	s := newTestServer(t)

	body := fmt.Sprintf(`{"url":%q}`, u.URL+"/archive.zip")

	res := postJSON(t, s.URL+"/list-files", body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	after := u.requests.Load()
	assert.Positive(t, after)

	// second list within the TTL answers from cache without touching the upstream.
	res = postJSON(t, s.URL+"/list-files", body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, after, u.requests.Load())

	// different cookies are a different cache identity.
	res = postJSON(t, s.URL+"/list-files", fmt.Sprintf(`{"url":%q,"cookies":"auth=1"}`, u.URL+"/archive.zip"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Greater(t, u.requests.Load(), after)
}
