package embed

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes provider calls. Conversations repeat phrases
// constantly (candidate lookup re-embeds the same turn the write pipeline just
// embedded), so a small cache removes most provider round-trips.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with an admission-controlled cache bounded to
// roughly maxBytes of vector data.
func NewCachedEmbedder(inner Embedder, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := append([]float32(nil), vec...)
	e.cache.Set(text, stored, int64(len(stored)*4))
	return vec, nil
}

// Wait blocks until pending cache writes are visible. Tests use it to make
// hit/miss behavior deterministic.
func (e *CachedEmbedder) Wait() { e.cache.Wait() }

func (e *CachedEmbedder) Close() error {
	e.cache.Close()
	return nil
}
