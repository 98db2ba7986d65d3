package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes embeddings by exact text. It is used in front of
// the provider for search queries, which repeat far more than chunk texts.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, Embedding]
}

// NewCachedEmbedder wraps inner with an LRU of size entries.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, Embedding](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	if emb, ok := c.cache.Get(text); ok {
		return emb, nil
	}
	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	c.cache.Add(text, emb)
	return emb, nil
}

// EmbedBatch serves hits from the cache and sends only misses to the inner
// embedder, in one batch, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if emb, ok := c.cache.Get(t); ok {
			out[i] = emb
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	embs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embs) != len(missTexts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings", ErrBatchLength, len(missTexts), len(embs))
	}
	for j, emb := range embs {
		out[missIdx[j]] = emb
		c.cache.Add(missTexts[j], emb)
	}
	return out, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
