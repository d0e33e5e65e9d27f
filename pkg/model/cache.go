package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/germanamz/relay/pkg/modeladapter"
)

// CacheMode selects how an inference uses the response cache.
type CacheMode string

const (
	CacheOn        CacheMode = "on"
	CacheOff       CacheMode = "off"
	CacheReadOnly  CacheMode = "read_only"
	CacheWriteOnly CacheMode = "write_only"
)

// Valid reports whether m is a known mode. The empty mode means off.
func (m CacheMode) Valid() bool {
	switch m {
	case "", CacheOn, CacheOff, CacheReadOnly, CacheWriteOnly:
		return true
	}

	return false
}

// Read reports whether m serves hits.
func (m CacheMode) Read() bool { return m == CacheOn || m == CacheReadOnly }

// Write reports whether m stores responses.
func (m CacheMode) Write() bool { return m == CacheOn || m == CacheWriteOnly }

func (m CacheMode) enabled() bool { return m.Read() || m.Write() }

// CacheOptions are per-inference cache settings.
type CacheOptions struct {
	Mode CacheMode
	// MaxAge rejects hits older than this; zero accepts any age.
	MaxAge time.Duration
}

// Cache is a bounded, expiring store of provider responses.
type Cache struct {
	lru *expirable.LRU[string, modeladapter.Response]
	now func() time.Time
}

// NewCache creates a cache holding at most size responses for ttl each.
// A zero ttl keeps entries until evicted by size.
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, modeladapter.Response](size, nil, ttl),
		now: time.Now,
	}
}

// CacheKey identifies req as sent to one provider of one model.
func CacheKey(model, provider string, req *modeladapter.Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("model: cache key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns a copy of the cached response for key.
func (c *Cache) Get(key string, maxAge time.Duration) (*modeladapter.Response, bool) {
	resp, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}

	if maxAge > 0 && c.now().Sub(time.Unix(resp.Created, 0)) > maxAge {
		return nil, false
	}

	return &resp, true
}

// Put stores a copy of resp under key.
func (c *Cache) Put(key string, resp *modeladapter.Response) {
	c.lru.Add(key, *resp)
}

// Len returns the number of cached responses.
func (c *Cache) Len() int {
	return c.lru.Len()
}
