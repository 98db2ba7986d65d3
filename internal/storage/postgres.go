package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/models"
)

// DB is the subset of pgxpool.Pool used by PostgresStorage. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PoolOptions tunes the pgx connection pool.
type PoolOptions struct {
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension.
type PostgresStorage struct {
	db     DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStorage connects a pool to dsn and verifies it with a ping.
func NewPostgresStorage(ctx context.Context, dsn string, opts PoolOptions, logger *zap.Logger) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	s := NewPostgresStorageFromDB(pool, logger)
	s.pool = pool
	return s, nil
}

// NewPostgresStorageFromDB wraps an existing pool or mock.
func NewPostgresStorageFromDB(db DB, logger *zap.Logger) *PostgresStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStorage{db: db, logger: logger}
}

// Pool returns the underlying pool, or nil when built from a mock.
func (s *PostgresStorage) Pool() *pgxpool.Pool { return s.pool }

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// HNSW indexes vector columns up to MaxHNSWVectorDim dimensions and halfvec
// columns up to MaxHNSWHalfvecDim.
const (
	MaxHNSWVectorDim  = 2000
	MaxHNSWHalfvecDim = 4000
)

// indexedType is the pgvector type embeddings of dim are cast to for
// indexing and for the distance expression that uses the index.
func indexedType(dim int) string {
	if dim > MaxHNSWVectorDim && dim <= MaxHNSWHalfvecDim {
		return "halfvec"
	}
	return "vector"
}

// EnsureVectorIndex creates the HNSW cosine index for vectors of dim
// dimensions. The embedding column is dimensionless, so the index is a
// partial expression index over the rows of that dimension. Above
// MaxHNSWVectorDim the index is built over a halfvec cast; above
// MaxHNSWHalfvecDim no index is built and search scans.
func (s *PostgresStorage) EnsureVectorIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dim)
	}
	if dim > MaxHNSWHalfvecDim {
		s.logger.Warn("vector dimension too large for an hnsw index, search will scan",
			zap.Int("dim", dim), zap.Int("max", MaxHNSWHalfvecDim))
		return nil
	}
	typ := indexedType(dim)
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS kb_vectors_embedding_hnsw_%d ON kb_vectors USING hnsw ((embedding::%s(%d)) %s_cosine_ops) WHERE dim = %d`,
		dim, typ, dim, typ, dim)
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create vector index: %w", classify(err))
	}
	return nil
}

// RunInTx runs fn in a read-committed transaction.
func (s *PostgresStorage) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// SearchSimilar runs the cosine-distance query against pgvector.
func (s *PostgresStorage) SearchSimilar(ctx context.Context, query []float32, threshold float64, limit int) ([]*models.SearchResult, error) {
	if len(query) == 0 || limit <= 0 {
		return []*models.SearchResult{}, nil
	}
	sql, args, err := similarityQuery(query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build search query: %w", err)
	}
	var results []*models.SearchResult
	if err := pgxscan.Select(ctx, s.db, &results, sql, args...); err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", classify(err))
	}
	for _, r := range results {
		if r.Tags == nil {
			r.Tags = []string{}
		}
	}
	return results, nil
}

func similarityQuery(query []float32, threshold float64, limit int) (string, []any, error) {
	dim := len(query)
	vec := pgvector.NewVector(query)
	distance := fmt.Sprintf("kv.embedding::vector(%d) <=> ?", dim)
	if typ := indexedType(dim); typ != "vector" {
		distance = fmt.Sprintf("kv.embedding::%s(%d) <=> ?::%s(%d)", typ, dim, typ, dim)
	}
	return psql.
		Select("c.id", "c.doc_id", "c.content", "c.tags", "c.page", "d.filename").
		Column(sq.Expr("1 - ("+distance+") AS score", vec)).
		From("chunks c").
		Join("documents d ON c.doc_id = d.doc_id").
		Join("kb_vectors kv ON c.id = kv.chunk_id").
		Where(fmt.Sprintf("kv.dim = %d", dim)).
		Where(sq.Expr("1 - ("+distance+") >= ?", vec, threshold)).
		OrderByClause(distance, vec).
		Limit(uint64(limit)).
		ToSql()
}

// SearchByTags filters chunks with the array-overlap operator.
func (s *PostgresStorage) SearchByTags(ctx context.Context, tags []string, limit int) ([]*models.TaggedChunk, error) {
	sql, args, err := psql.
		Select("c.id", "c.doc_id", "c.content", "c.tags", "c.page", "d.filename").
		From("chunks c").
		Join("documents d ON c.doc_id = d.doc_id").
		Where(sq.Expr("c.tags && ?", tags)).
		OrderBy("c.created_at DESC", "c.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tag query: %w", err)
	}
	var results []*models.TaggedChunk
	if err := pgxscan.Select(ctx, s.db, &results, sql, args...); err != nil {
		return nil, fmt.Errorf("failed to search tags: %w", classify(err))
	}
	for _, r := range results {
		if r.Tags == nil {
			r.Tags = []string{}
		}
	}
	return results, nil
}

const documentSummaryColumns = `d.doc_id, d.filename, d.hash, d.version, d.source_key, d.created_at, d.updated_at,
	(SELECT COUNT(*) FROM chunks c WHERE c.doc_id = d.doc_id) AS chunks`

// GetDocument returns a document with its chunk count.
func (s *PostgresStorage) GetDocument(ctx context.Context, docID string) (*models.DocumentSummary, error) {
	var doc models.DocumentSummary
	err := pgxscan.Get(ctx, s.db, &doc,
		`SELECT `+documentSummaryColumns+` FROM documents d WHERE d.doc_id = $1`, docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", classify(err))
	}
	return &doc, nil
}

// ListDocuments returns documents most recently updated first.
func (s *PostgresStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.DocumentSummary, error) {
	sql, args, err := psql.
		Select(documentSummaryColumns).
		From("documents d").
		OrderBy("d.updated_at DESC", "d.doc_id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build document query: %w", err)
	}
	docs := []*models.DocumentSummary{}
	if err := pgxscan.Select(ctx, s.db, &docs, sql, args...); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", classify(err))
	}
	return docs, nil
}

// DeleteDocument removes a document; chunks and vectors cascade.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, docID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	return nil
}

const countsSQL = `SELECT
	(SELECT COUNT(*) FROM documents) AS documents,
	(SELECT COUNT(*) FROM chunks) AS chunks,
	(SELECT COUNT(*) FROM kb_vectors) AS vectors`

// Counts returns row counts in a single round trip.
func (s *PostgresStorage) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	if err := s.db.QueryRow(ctx, countsSQL).Scan(&c.Documents, &c.Chunks, &c.Vectors); err != nil {
		return c, fmt.Errorf("failed to count rows: %w", classify(err))
	}
	return c, nil
}

const topTagsSQL = `SELECT unnest(tags) AS tag, COUNT(*) AS count
	FROM chunks
	WHERE tags IS NOT NULL AND array_length(tags, 1) > 0
	GROUP BY tag
	ORDER BY count DESC, tag ASC
	LIMIT $1`

// TopTags returns the most frequent chunk tags.
func (s *PostgresStorage) TopTags(ctx context.Context, limit int) ([]models.TagCount, error) {
	tags := []models.TagCount{}
	if err := pgxscan.Select(ctx, s.db, &tags, topTagsSQL, limit); err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", classify(err))
	}
	return tags, nil
}

// SizeBytes returns the on-disk size of the three tables and their indexes.
func (s *PostgresStorage) SizeBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT pg_total_relation_size('documents') + pg_total_relation_size('chunks') + pg_total_relation_size('kb_vectors')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to measure storage: %w", classify(err))
	}
	return n, nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockKey(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, classify(err))
	}
	return nil
}

func (t *pgTx) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	var doc models.Document
	err := pgxscan.Get(ctx, t.tx, &doc,
		`SELECT doc_id, filename, hash, version, source_key, created_at, updated_at FROM documents WHERE doc_id = $1`, docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", classify(err))
	}
	return &doc, nil
}

func (t *pgTx) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Version == 0 {
		doc.Version = 1
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO documents (doc_id, filename, hash, version, source_key) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		doc.DocID, doc.Filename, doc.Hash, doc.Version, doc.SourceKey,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", classify(err))
	}
	return nil
}

func (t *pgTx) BumpVersion(ctx context.Context, docID, hash, filename string) (int, error) {
	var version int
	err := t.tx.QueryRow(ctx,
		`UPDATE documents SET version = version + 1, hash = $1, filename = $2, updated_at = now()
		 WHERE doc_id = $3 RETURNING version`,
		hash, filename, docID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update document version: %w", classify(err))
	}
	return version, nil
}

func (t *pgTx) CountChunks(ctx context.Context, docID string) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = $1`, docID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", classify(err))
	}
	return n, nil
}

func (t *pgTx) DeleteChunks(ctx context.Context, docID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", classify(err))
	}
	return nil
}

func (t *pgTx) InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error) {
	tags := chunk.Tags
	if tags == nil {
		tags = []string{}
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO chunks (doc_id, page, content, tags, chunk_hash) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		chunk.DocID, chunk.Page, chunk.Content, tags, chunk.ChunkHash,
	).Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk: %w", classify(err))
	}
	return chunk.ID, nil
}

func (t *pgTx) InsertVector(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO kb_vectors (chunk_id, dim, embedding) VALUES ($1, $2, $3)`,
		chunkID, len(embedding), pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", classify(err))
	}
	return nil
}

// classify marks connection-level failures as models.ErrStorageUnavailable.
func classify(err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}
