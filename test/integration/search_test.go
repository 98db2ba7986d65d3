// Package integration exercises the ingest and search pipeline against real storage backends.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tebiki/internal/embedding"
	"github.com/hyperjump/tebiki/internal/indexer"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
	"github.com/hyperjump/tebiki/internal/search"
	"github.com/hyperjump/tebiki/internal/storage"
)

const testDim = 64

func noEnv(string) (string, bool) { return "", false }

// pipeline wires an indexer and engine over store with a file-backed config.
type pipeline struct {
	store   storage.Storage
	rag     *ragconfig.Manager
	indexer *indexer.Indexer
	engine  *search.Engine
}

func newPipeline(t *testing.T, store storage.Storage, ragPath string) *pipeline {
	t.Helper()
	rag := ragconfig.NewManager(ragconfig.NewFileStore(ragPath), ragconfig.WithEnv(noEnv))
	cfg := rag.Load(context.Background())
	if cfg.EmbedDim != testDim {
		_, _, err := rag.Update(context.Background(), ragconfig.Patch{EmbedDim: intPtr(testDim), SimilarityThreshold: floatPtr(0.1)})
		require.NoError(t, err)
	}
	embedder := embedding.NewMockEmbedder(testDim)
	return &pipeline{
		store:   store,
		rag:     rag,
		indexer: indexer.NewIndexer(store, embedder, rag),
		engine:  search.NewEngine(store, embedder, rag),
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func openSQLite(t *testing.T, path string) storage.Storage {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite://"+path, storage.Options{})
	require.NoError(t, err)
	return store
}

func TestIntegration_SQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tebiki.db")
	ragPath := filepath.Join(dir, "rag-config.json")

	store := openSQLite(t, dbPath)
	p := newPipeline(t, store, ragPath)
	res, err := p.indexer.Ingest(ctx, models.IngestRequest{
		Filename: "ml.txt",
		Text:     "Machine learning algorithms learn patterns from data.",
		Tags:     []string{"ml"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store = openSQLite(t, dbPath)
	defer store.Close()
	p = newPipeline(t, store, ragPath)
	assert.Equal(t, testDim, p.rag.Load(ctx).EmbedDim, "config file should survive the restart")

	resp, err := p.engine.Search(ctx, &models.SearchQuery{Query: "machine learning"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, res.DocID, resp.Results[0].DocID)
	assert.Equal(t, "ml.txt", resp.Results[0].Filename)
	assert.Equal(t, []string{"ml"}, resp.Results[0].Tags)

	size, err := store.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestIntegration_ConcurrentKeyedIngestIsSerialized(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openSQLite(t, filepath.Join(dir, "tebiki.db"))
	defer store.Close()
	p := newPipeline(t, store, filepath.Join(dir, "rag-config.json"))

	const writers = 8
	g, gctx := errgroup.WithContext(ctx)
	for i := range writers {
		g.Go(func() error {
			_, err := p.indexer.Ingest(gctx, models.IngestRequest{
				Filename: "notes.md",
				Text:     fmt.Sprintf("Revision %d of the shared notes about vector search.", i),
				Key:      "notes.md",
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	docs, err := store.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1, "one key must map to one document")
	assert.Equal(t, writers, docs[0].Version, "every distinct text bumps the version once")

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Documents)
	assert.Equal(t, counts.Chunks, counts.Vectors, "no orphaned chunks from interleaved writes")
}

func TestIntegration_ConfigChangeAffectsNextIngest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openSQLite(t, filepath.Join(dir, "tebiki.db"))
	defer store.Close()
	p := newPipeline(t, store, filepath.Join(dir, "rag-config.json"))

	text := strings.Repeat("Chunk boundaries follow the configured size and overlap. ", 60)
	before, err := p.indexer.Ingest(ctx, models.IngestRequest{Filename: "doc.txt", Text: text, Key: "doc"})
	require.NoError(t, err)

	_, changes, err := p.rag.Update(ctx, ragconfig.Patch{ChunkSize: intPtr(200), ChunkOverlap: intPtr(20)})
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	after, err := p.indexer.Ingest(ctx, models.IngestRequest{Filename: "doc.txt", Text: text + " Revised.", Key: "doc"})
	require.NoError(t, err)
	assert.Equal(t, 2, after.Version)
	assert.Greater(t, after.Chunks, before.Chunks, "smaller chunks split the text further")

	doc, err := store.GetDocument(ctx, after.DocID)
	require.NoError(t, err)
	assert.Equal(t, after.Chunks, doc.Chunks, "old chunks are replaced, not appended")
}

func TestIntegration_DimensionChangeIsolatesOldVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openSQLite(t, filepath.Join(dir, "tebiki.db"))
	defer store.Close()
	p := newPipeline(t, store, filepath.Join(dir, "rag-config.json"))

	_, err := p.indexer.Ingest(ctx, models.IngestRequest{Filename: "before.txt", Text: "Vectors written at sixty-four dimensions."})
	require.NoError(t, err)

	// The embedder still produces 64 dimensions, so queries now mismatch.
	_, _, err = p.rag.Update(ctx, ragconfig.Patch{EmbedDim: intPtr(32)})
	require.NoError(t, err)

	_, err = p.engine.Search(ctx, &models.SearchQuery{Query: "sixty-four dimensions"})
	var mismatch *models.DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 32, mismatch.Expected)
	assert.Equal(t, testDim, mismatch.Actual)

	res, err := p.indexer.Ingest(ctx, models.IngestRequest{Filename: "after.txt", Text: "Ingest after the dimension change."})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Skipped, "vectors of the wrong size are skipped")
	assert.Zero(t, res.Stats.VectorsStored)
}
