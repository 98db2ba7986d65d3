package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/hyperjump/tebiki/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. Each
// word is hashed into one of the dimensions, so texts sharing words get a
// high cosine similarity and texts without common words score near zero.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-length bag-of-words vector. TokenCount is the word count.
func (e *MockEmbedder) Embed(_ context.Context, text string) (Embedding, error) {
	words := mockTerms(text)
	emb := make([]float32, e.dimensions)
	if len(words) == 0 {
		emb[0] = 1
		return Embedding{Vector: emb}, nil
	}
	for _, w := range words {
		emb[HashString(w)%e.dimensions]++
	}
	utils.NormalizeL2(emb)
	return Embedding{Vector: emb, TokenCount: len(words)}, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	embeddings := make([]Embedding, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func mockTerms(text string) []string {
	words := SplitWords(strings.ToLower(text))
	terms := words[:0]
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}
