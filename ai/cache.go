package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes embeddings by text digest with LRU eviction. Cached
// vectors are copied on the way in and out so callers cannot corrupt them.
type Cache struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCache wraps next with a cache holding up to size embeddings.
// A size <= 0 falls back to 1024.
func NewCache(next Embedder, size int) *Cache {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Cache{next: next, cache: cache}
}

// EmbedText implements Embedder.
func (c *Cache) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := digest(text)
	if vec, ok := c.cache.Get(key); ok {
		return clone(vec), nil
	}
	vec, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(vec))
	return vec, nil
}

// EmbedTexts implements Embedder. Only texts missing from the cache are sent
// to the backend.
func (c *Cache) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		keys[i] = digest(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			out[i] = clone(vec)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, ErrBackendUnavailable
	}
	for j, i := range missingIdx {
		out[i] = vecs[j]
		c.cache.Add(keys[i], clone(vecs[j]))
	}
	return out, nil
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	return c.cache.Len()
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
