package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryCacheSize is the fixed size mandated by spec.md §4.2: once full,
// eviction drops the oldest half at once rather than the usual one-in
// one-out LRU behavior.
const QueryCacheSize = 128

// CachedEmbedder wraps an Embedder, adding the embed_one query cache.
// Embed (the batch/ingestion path) passes straight through uncached.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a size-128 query-embedding cache.
func NewCachedEmbedder(inner Embedder) *CachedEmbedder {
	cache, _ := lru.New[string, []float32](QueryCacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.Embed(ctx, texts)
}

// EmbedOne consults the cache when cache is true; on a miss it computes via
// the inner embedder and stores the result, evicting the oldest half of the
// cache first if it was already at capacity (spec.md §4.2, not golang-lru's
// default one-at-a-time eviction).
func (c *CachedEmbedder) EmbedOne(ctx context.Context, query string, cache bool) ([]float32, error) {
	if cache {
		if vec, ok := c.cache.Get(query); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.EmbedOne(ctx, query, cache)
	if err != nil {
		return nil, err
	}

	if cache {
		if c.cache.Len() >= QueryCacheSize {
			evictOldestHalf(c.cache)
		}
		c.cache.Add(query, vec)
	}
	return vec, nil
}

// evictOldestHalf drops the oldest half of cache's entries. golang-lru's
// Cache tracks recency internally but only exposes RemoveOldest as a
// single-entry primitive, so the half-eviction is implemented as a loop
// over it.
func evictOldestHalf(cache *lru.Cache[string, []float32]) {
	n := cache.Len() / 2
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if _, _, ok := cache.RemoveOldest(); !ok {
			break
		}
	}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Close() error   { return c.inner.Close() }

var _ Embedder = (*CachedEmbedder)(nil)
