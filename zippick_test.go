package zippick

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveRange serves content with full byte-range support, standing in for the upstream file host.
func serveRange(t *testing.T, content []byte) *httptest.Server {
	t.Helper()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.zip", time.Unix(0, 0), bytes.NewReader(content))
	}))
	t.Cleanup(s.Close)
	return s
}

type testMember struct {
	name   string
	body   string
	method uint16
}

func buildZip(t *testing.T, members ...testMember) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: m.method})
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// rawEntry is one member of a handcrafted archive, with full control over flags, method and payload bytes.
type rawEntry struct {
	name    string
	payload []byte
	method  uint16
	flags   uint16
	crc     uint32
	usize   uint32
}

// buildRawZip handcrafts an archive byte-by-byte, for fixtures archive/zip cannot produce (encrypted members,
// opaque compression methods).
func buildRawZip(entries ...rawEntry) []byte {
	var buf bytes.Buffer
	u16 := func(v uint16) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	u32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(buf.Len())
		u32(0x04034b50)
		u16(20)
		u16(e.flags)
		u16(e.method)
		u16(0)
		u16(0)
		u32(e.crc)
		u32(uint32(len(e.payload)))
		u32(e.usize)
		u16(uint16(len(e.name)))
		u16(0)
		buf.WriteString(e.name)
		buf.Write(e.payload)
	}

	cdOffset := uint32(buf.Len())
	for i, e := range entries {
		u32(0x02014b50)
		u16(20)
		u16(20)
		u16(e.flags)
		u16(e.method)
		u16(0)
		u16(0)
		u32(e.crc)
		u32(uint32(len(e.payload)))
		u32(e.usize)
		u16(uint16(len(e.name)))
		u16(0)
		u16(0)
		u16(0)
		u16(0)
		u32(0)
		u32(offsets[i])
		buf.WriteString(e.name)
	}
	cdSize := uint32(buf.Len()) - cdOffset

	u32(0x06054b50)
	u16(0)
	u16(0)
	u16(uint16(len(entries)))
	u16(uint16(len(entries)))
	u32(cdSize)
	u32(cdOffset)
	u16(0)

	return buf.Bytes()
}

// storedEntry returns a rawEntry for a valid stored member.
func storedEntry(name, body string) rawEntry {
	return rawEntry{
		name:    name,
		payload: []byte(body),
		method:  zip.Store,
		crc:     crc32.ChecksumIEEE([]byte(body)),
		usize:   uint32(len(body)),
	}
}
