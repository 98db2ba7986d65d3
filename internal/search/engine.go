// Package search answers similarity queries with a rerank step, tag-overlap
// queries and corpus statistics.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tebiki/internal/embedding"
	"github.com/hyperjump/tebiki/internal/metrics"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
	"github.com/hyperjump/tebiki/internal/storage"
)

// ConfigSource supplies the retrieval configuration for one call.
type ConfigSource interface {
	Load(ctx context.Context) ragconfig.RagConfig
}

// Engine runs similarity and tag search over a Storage.
type Engine struct {
	storage  storage.Storage
	embedder embedding.Embedder
	config   ConfigSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records search outcomes and latency in m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine. The embedder is used for queries
// only; wrap it in an embedding.CachedEmbedder to reuse repeated queries.
func NewEngine(store storage.Storage, embedder embedding.Embedder, cfg ConfigSource, opts ...EngineOption) *Engine {
	e := &Engine{
		storage:  store,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds the query, fetches up to limit candidates scoring at
// least threshold, and reranks them down to rerankTop.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	resp, err := e.search(ctx, query, start)
	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, models.ErrValidation):
		outcome = metrics.OutcomeInvalid
	case err != nil:
		outcome = metrics.OutcomeError
	}
	e.metrics.ObserveSearch(outcome, time.Since(start))
	return resp, err
}

func (e *Engine) search(ctx context.Context, query *models.SearchQuery, start time.Time) (*models.SearchResponse, error) {
	cfg := e.config.Load(ctx)
	limit, threshold, err := ProcessQuery(query, cfg)
	if err != nil {
		return nil, err
	}

	emb, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(emb.Vector) != cfg.EmbedDim {
		return nil, &models.DimensionMismatchError{Expected: cfg.EmbedDim, Actual: len(emb.Vector)}
	}

	candidates, err := e.storage.SearchSimilar(ctx, emb.Vector, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	top := Rerank(candidates, cfg.RerankTop, cfg.RerankMin)

	resp := &models.SearchResponse{
		Results: top,
		Stats: models.SearchStats{
			Query:               query.Query,
			TotalResults:        len(candidates),
			TopResults:          len(top),
			ProcessingTime:      time.Since(start).Milliseconds(),
			EmbeddingDimension:  len(emb.Vector),
			SimilarityThreshold: threshold,
		},
		Message: fmt.Sprintf("Found %d relevant chunks", len(candidates)),
	}
	e.logger.Debug("search completed",
		zap.String("query", query.Query),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(top)),
		zap.Int64("processing_ms", resp.Stats.ProcessingTime))
	return resp, nil
}

// SearchByTags returns chunks whose tags overlap the comma-separated list
// raw, newest first, capped at storage.TagSearchLimit.
func (e *Engine) SearchByTags(ctx context.Context, raw string) (*models.TagSearchResponse, error) {
	tags, err := ParseTags(raw)
	if err != nil {
		return nil, err
	}
	results, err := e.storage.SearchByTags(ctx, tags, storage.TagSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}
	return &models.TagSearchResponse{
		Results: results,
		Tags:    tags,
		Count:   len(results),
		Message: fmt.Sprintf("Found %d chunks with tags: %s", len(results), strings.Join(tags, ", ")),
	}, nil
}

// Stats returns row counts and the most used tags, queried concurrently.
func (e *Engine) Stats(ctx context.Context) (*models.CorpusStats, error) {
	var stats models.CorpusStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := e.storage.Counts(gctx)
		stats.Counts = c
		return err
	})
	g.Go(func() error {
		tags, err := e.storage.TopTags(gctx, storage.TopTagsLimit)
		stats.TopTags = tags
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to get search statistics: %w", err)
	}
	if stats.TopTags == nil {
		stats.TopTags = []models.TagCount{}
	}
	return &stats, nil
}

// Status returns the aggregate row counts.
func (e *Engine) Status(ctx context.Context) (models.Counts, error) {
	c, err := e.storage.Counts(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to get ingest status: %w", err)
	}
	return c, nil
}
