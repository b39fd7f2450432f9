// Package cache implements the translation cache on top of a bounded LRU.
package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tutu-network/mtran/internal/infra/metrics"
)

// LRU is a fixed-size, recency-ordered translation cache. A zero or negative
// size yields a disabled cache: Get always misses and Put is a no-op.
type LRU struct {
	entries *lru.Cache[string, string]
}

// New creates a cache holding at most size entries.
func New(size int) (*LRU, error) {
	if size <= 0 {
		return &LRU{}, nil
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: entries}, nil
}

// Enabled reports whether the cache stores anything.
func (c *LRU) Enabled() bool { return c.entries != nil }

func (c *LRU) Get(key string) (string, bool) {
	if c.entries == nil {
		return "", false
	}
	v, ok := c.entries.Get(key)
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return v, ok
}

func (c *LRU) Put(key, value string) {
	if c.entries == nil {
		return
	}
	c.entries.Add(key, value)
}

// Len returns the number of cached translations.
func (c *LRU) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge drops every entry.
func (c *LRU) Purge() {
	if c.entries != nil {
		c.entries.Purge()
	}
}

// Key hashes a translation request. Fields are NUL-separated so that
// ("ab","c") and ("a","bc") never collide.
func Key(from, to, text string, html bool) string {
	h := xxhash.New()
	for _, part := range []string{from, to, text, strconv.FormatBool(html)} {
		h.WriteString(part)
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
