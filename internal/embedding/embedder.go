// Package embedding turns text into fixed-length vectors through a provider,
// with batching, caching, retries and token accounting.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrBatchLength is returned when a provider answers a batch with a
// different number of embeddings than it was sent.
var ErrBatchLength = errors.New("embedding batch length mismatch")

// Embedding is one vector and the number of tokens consumed to produce it.
type Embedding struct {
	Vector     []float32
	TokenCount int
}

// Embedder produces vector embeddings for text.
//
// EmbedBatch must return exactly one Embedding per input text, in input
// order: result i is the embedding of texts[i]. Callers associate results
// with their inputs by position.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
	Dimensions() int
	Close() error
}

// EmbedAll embeds texts in request batches of batchSize and returns the
// concatenated, input-ordered results. Any failed batch fails the call.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize int) ([]Embedding, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	out := make([]Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", start/batchSize+1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings", ErrBatchLength, end-start, len(batch))
		}
		out = append(out, batch...)
	}
	return out, nil
}

// TotalTokens sums the token counts of embs.
func TotalTokens(embs []Embedding) int {
	total := 0
	for _, e := range embs {
		total += e.TokenCount
	}
	return total
}
