package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DimensionFunc reports the embedding dimension currently configured.
type DimensionFunc func(ctx context.Context) int

// BuildFunc constructs an embedder that produces vectors of dim dimensions.
type BuildFunc func(ctx context.Context, dim int) (Embedder, error)

// ResizingEmbedder delegates to an embedder built for the configured
// dimension and rebuilds it when the configured dimension changes, so an
// embedDim update applies to the next call.
type ResizingEmbedder struct {
	dimension DimensionFunc
	build     BuildFunc

	mu      sync.Mutex
	current Embedder
	dim     int
	retired []Embedder
}

// NewResizingEmbedder builds the initial embedder for the current dimension.
func NewResizingEmbedder(ctx context.Context, dimension DimensionFunc, build BuildFunc) (*ResizingEmbedder, error) {
	r := &ResizingEmbedder{dimension: dimension, build: build}
	if _, err := r.embedder(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// embedder returns the embedder for the configured dimension. Replaced
// embedders may still be serving in-flight calls, so they are closed by Close.
func (r *ResizingEmbedder) embedder(ctx context.Context) (Embedder, error) {
	dim := r.dimension(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.dim == dim {
		return r.current, nil
	}
	next, err := r.build(ctx, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder for %d dimensions: %w", dim, err)
	}
	if r.current != nil {
		r.retired = append(r.retired, r.current)
	}
	r.current, r.dim = next, dim
	return next, nil
}

func (r *ResizingEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	e, err := r.embedder(ctx)
	if err != nil {
		return Embedding{}, err
	}
	return e.Embed(ctx, text)
}

func (r *ResizingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	e, err := r.embedder(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions returns the dimension of the embedder built most recently.
func (r *ResizingEmbedder) Dimensions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dim
}

func (r *ResizingEmbedder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range append(r.retired, r.current) {
		if e != nil {
			errs = append(errs, e.Close())
		}
	}
	r.current, r.retired = nil, nil
	return errors.Join(errs...)
}
