package voice

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Lister is the catalogue half of [tts.Engine].
type Lister interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// DefaultCacheTTL is how long a fetched catalogue is reused.
const DefaultCacheTTL = 5 * time.Minute

const catalogKey = "catalog"

// Cache memoises an engine's catalogue for a TTL. Errors are never cached,
// so the next call after a failure retries the engine.
//
// Safe for concurrent use.
type Cache struct {
	src Lister
	lru *expirable.LRU[string, []tts.Voice]
}

var _ Lister = (*Cache)(nil)

// NewCache wraps src. A ttl <= 0 uses [DefaultCacheTTL].
func NewCache(src Lister, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		src: src,
		lru: expirable.NewLRU[string, []tts.Voice](1, nil, ttl),
	}
}

// ListVoices returns the cached catalogue or fetches a fresh one. The
// returned slice is a copy.
func (c *Cache) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if v, ok := c.lru.Get(catalogKey); ok {
		return clone(v), nil
	}
	voices, err := c.src.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	c.lru.Add(catalogKey, clone(voices))
	return voices, nil
}

// Invalidate drops the cached catalogue.
func (c *Cache) Invalidate() {
	c.lru.Purge()
}

func clone(v []tts.Voice) []tts.Voice {
	out := make([]tts.Voice, len(v))
	copy(out, v)
	return out
}
