package render

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// clipCache keeps synthesized audio keyed by voice and text. Transcripts are
// re-rendered after every turn, so without it every earlier clip would be
// synthesized again. A nil clipCache caches nothing.
type clipCache struct {
	lru *lru.Cache[string, []byte]
}

// newClipCache returns nil for capacity <= 0.
func newClipCache(capacity int) *clipCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil
	}
	return &clipCache{lru: c}
}

func (c *clipCache) get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *clipCache) put(key string, audio []byte) {
	if c == nil {
		return
	}
	c.lru.Add(key, audio)
}

func (c *clipCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
