package zippick

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nguyengg/zippick/httprange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	data := buildZip(t,
		testMember{name: "hello.txt", body: "hi\n", method: zip.Store},
		testMember{name: "empty.bin", body: "", method: zip.Store},
	)
	s := serveRange(t, data)

	records, err := List(context.Background(), Source{URL: s.URL + "/archive.zip"}, func(opts *Options) {
		opts.HTTPClient = s.Client()
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "hello.txt", records[0].Name)
	assert.EqualValues(t, zip.Store, records[0].Method)
	assert.EqualValues(t, 3, records[0].CompressedSize)
	assert.EqualValues(t, 3, records[0].UncompressedSize)
	assert.False(t, records[0].Encrypted())

	assert.Equal(t, "empty.bin", records[1].Name)
	assert.EqualValues(t, 0, records[1].UncompressedSize)
}

func TestList_utf8Filename(t *testing.T) {
	data := buildZip(t, testMember{name: "日本語.txt", body: "こんにちは", method: zip.Deflate})
	s := serveRange(t, data)

	records, err := List(context.Background(), Source{URL: s.URL}, func(opts *Options) {
		opts.HTTPClient = s.Client()
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "日本語.txt", records[0].Name)
}

func TestList_upstream404(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer s.Close()

	_, err := List(context.Background(), Source{URL: s.URL + "/missing.zip"}, func(opts *Options) {
		opts.HTTPClient = s.Client()
	})
	assert.ErrorIs(t, err, httprange.ErrUpstreamStatus)
}

func TestList_passesAuthHints(t *testing.T) {
	data := buildZip(t, testMember{name: "a.txt", body: "a", method: zip.Store})

	var sawCookie bool
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "auth=token" || r.Header.Get("User-Agent") != httprange.BrowserUserAgent {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		sawCookie = true
		http.ServeContent(w, r, "archive.zip", time.Unix(0, 0), bytes.NewReader(data))
	}))
	defer s.Close()

	records, err := List(context.Background(), Source{URL: s.URL, Cookies: "auth=token", ImpersonateBrowser: true}, func(opts *Options) {
		opts.HTTPClient = s.Client()
	})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.True(t, sawCookie)
}
