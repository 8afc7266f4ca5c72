package server

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nguyengg/zippick"
	"github.com/nguyengg/zippick/zipscan"
)

// cdCache is a bounded TTL cache of parsed central directories so that a list immediately followed by a download of
// the same archive does not re-fetch the trailer.
//
// expirable.LRU is safe for concurrent use; entries never survive a process restart.
type cdCache struct {
	lru *expirable.LRU[string, []zipscan.Record]
}

func (c *cdCache) get(src zippick.Source) ([]zipscan.Record, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey(src))
}

func (c *cdCache) add(src zippick.Source, records []zipscan.Record) {
	if c.lru != nil {
		c.lru.Add(cacheKey(src), records)
	}
}

// cacheKey keys by URL plus a digest of the cookie string; the same archive behind different credentials may list
// differently (or not at all), so the credentials are part of the identity.
func cacheKey(src zippick.Source) string {
	sum := sha256.Sum256([]byte(src.Cookies))
	return src.URL + "\n" + hex.EncodeToString(sum[:])
}
