// Package storage persists documents, chunks and their vectors, and answers
// similarity and tag queries over them.
package storage

import (
	"context"

	"github.com/hyperjump/tebiki/internal/models"
)

// TopTagsLimit is the number of tags reported by corpus statistics.
const TopTagsLimit = 10

// TagSearchLimit caps tag-overlap search results.
const TagSearchLimit = 20

// Storage defines document, chunk and vector persistence.
type Storage interface {
	// RunInTx runs fn in one transaction. If fn returns an error the
	// transaction is rolled back and nothing fn wrote is visible.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// SearchSimilar returns up to limit chunks whose vector scores at least
	// threshold against query (1 - cosine distance), best first. Only
	// vectors with len(query) dimensions are considered.
	SearchSimilar(ctx context.Context, query []float32, threshold float64, limit int) ([]*models.SearchResult, error)
	// SearchByTags returns chunks sharing at least one tag with tags, newest first.
	SearchByTags(ctx context.Context, tags []string, limit int) ([]*models.TaggedChunk, error)

	// Document operations
	GetDocument(ctx context.Context, docID string) (*models.DocumentSummary, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.DocumentSummary, error)
	DeleteDocument(ctx context.Context, docID string) error

	// Stats
	Counts(ctx context.Context) (models.Counts, error)
	TopTags(ctx context.Context, limit int) ([]models.TagCount, error)
	SizeBytes(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface used by ingest inside RunInTx.
type Tx interface {
	// LockKey blocks until no other transaction holds key; released at commit or rollback.
	LockKey(ctx context.Context, key string) error
	// GetDocument returns models.ErrNotFound when docID does not exist.
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
	// BumpVersion increments version, overwrites hash and filename, and returns the new version.
	BumpVersion(ctx context.Context, docID, hash, filename string) (int, error)
	CountChunks(ctx context.Context, docID string) (int, error)
	// DeleteChunks removes every chunk of docID; their vectors cascade.
	DeleteChunks(ctx context.Context, docID string) error
	// InsertChunk stores chunk and returns its generated id.
	InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error)
	InsertVector(ctx context.Context, chunkID int64, embedding []float32) error
}
