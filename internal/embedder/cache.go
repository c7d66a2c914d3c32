package embedder

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/notesearch/internal/checksum"
)

// Cached memoises another Embedder in an LRU keyed by the text checksum.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*Cached)(nil)

// NewCached wraps next with an LRU of size entries (10000 if size <= 0).
func NewCached(next Embedder, size int) *Cached {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &Cached{next: next, cache: cache}
}

// Dimension implements Embedder.
func (c *Cached) Dimension() int { return c.next.Dimension() }

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }

// Encode implements Embedder. Cached vectors are copied so callers cannot
// mutate the cache.
func (c *Cached) Encode(ctx context.Context, text string) ([]float32, error) {
	key := checksum.String(text)
	if v, ok := c.cache.Get(key); ok {
		return copyVector(v), nil
	}
	v, err := c.next.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, copyVector(v))
	return v, nil
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
