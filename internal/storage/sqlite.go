package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/vector"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStorage implements Storage on a single SQLite file. Similarity is
// computed in process over the stored embeddings.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStorage opens or creates the database at path and applies the
// embedded migrations. Parent directories are created if needed.
func NewSQLiteStorage(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := "file::memory:?_foreign_keys=1"
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStorage{db: db, path: path, logger: logger}, nil
}

var sqlb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func (s *SQLiteStorage) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SearchSimilar ranks every stored vector of the query's dimension and
// then loads the chunk rows of the winners.
func (s *SQLiteStorage) SearchSimilar(ctx context.Context, query []float32, threshold float64, limit int) ([]*models.SearchResult, error) {
	if len(query) == 0 || limit <= 0 {
		return []*models.SearchResult{}, nil
	}
	candidates, err := s.loadVectors(ctx, len(query))
	if err != nil {
		return nil, err
	}
	ranked := vector.Rank(query, candidates, threshold, limit)
	if len(ranked) == 0 {
		return []*models.SearchResult{}, nil
	}

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	rows, err := s.selectChunks(ctx, sq.Eq{"c.id": ids}, "", 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.TaggedChunk, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	results := make([]*models.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		results = append(results, &models.SearchResult{
			ID:       c.ID,
			DocID:    c.DocID,
			Score:    r.Score,
			Content:  c.Content,
			Filename: c.Filename,
			Tags:     c.Tags,
			Page:     c.Page,
		})
	}
	return results, nil
}

func (s *SQLiteStorage) loadVectors(ctx context.Context, dim int) ([]vector.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, embedding FROM kb_vectors WHERE dim = ?`, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	defer rows.Close()

	var out []vector.Candidate
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		v, err := vector.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", id, err)
		}
		out = append(out, vector.Candidate{ID: id, Vector: v})
	}
	return out, rows.Err()
}

// SearchByTags returns chunks sharing at least one tag, newest first.
func (s *SQLiteStorage) SearchByTags(ctx context.Context, tags []string, limit int) ([]*models.TaggedChunk, error) {
	if len(tags) == 0 {
		return []*models.TaggedChunk{}, nil
	}
	overlap := sqlb.Select("1").From("json_each(c.tags) j").Where(sq.Eq{"j.value": tags})
	sub, args, err := overlap.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tag query: %w", err)
	}
	return s.selectChunks(ctx, sq.Expr("EXISTS ("+sub+")", args...), "c.created_at DESC, c.id DESC", limit)
}

func (s *SQLiteStorage) selectChunks(ctx context.Context, where sq.Sqlizer, orderBy string, limit int) ([]*models.TaggedChunk, error) {
	q := sqlb.
		Select("c.id", "c.doc_id", "c.content", "c.tags", "c.page", "d.filename").
		From("chunks c").
		Join("documents d ON c.doc_id = d.doc_id").
		Where(where)
	if orderBy != "" {
		q = q.OrderBy(orderBy)
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build chunk query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	out := []*models.TaggedChunk{}
	for rows.Next() {
		var (
			c    models.TaggedChunk
			tags string
		)
		if err := rows.Scan(&c.ID, &c.DocID, &c.Content, &tags, &c.Page, &c.Filename); err != nil {
			return nil, err
		}
		if c.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

const sqliteSummarySQL = `SELECT d.doc_id, d.filename, d.hash, d.version, d.source_key, d.created_at, d.updated_at,
	(SELECT COUNT(*) FROM chunks c WHERE c.doc_id = d.doc_id)
	FROM documents d`

func (s *SQLiteStorage) GetDocument(ctx context.Context, docID string) (*models.DocumentSummary, error) {
	row := s.db.QueryRowContext(ctx, sqliteSummarySQL+` WHERE d.doc_id = ?`, docID)
	doc, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteSummarySQL+` ORDER BY d.updated_at DESC, d.doc_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.DocumentSummary{}
	for rows.Next() {
		doc, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*models.DocumentSummary, error) {
	var (
		doc              models.DocumentSummary
		key              sql.NullString
		created, updated timestamp
	)
	if err := row.Scan(&doc.DocID, &doc.Filename, &doc.Hash, &doc.Version, &key, &created, &updated, &doc.Chunks); err != nil {
		return nil, err
	}
	if key.Valid {
		doc.SourceKey = &key.String
	}
	doc.CreatedAt, doc.UpdatedAt = time.Time(created), time.Time(updated)
	return &doc, nil
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	if err := s.db.QueryRowContext(ctx, countsSQL).Scan(&c.Documents, &c.Chunks, &c.Vectors); err != nil {
		return c, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

func (s *SQLiteStorage) TopTags(ctx context.Context, limit int) ([]models.TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.value AS tag, COUNT(*) AS count
		 FROM chunks c, json_each(c.tags) j
		 GROUP BY j.value
		 ORDER BY count DESC, tag ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	defer rows.Close()

	tags := []models.TagCount{}
	for rows.Next() {
		var tc models.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		tags = append(tags, tc)
	}
	return tags, rows.Err()
}

// SizeBytes reports the database file size, or the page total for an
// in-memory database.
func (s *SQLiteStorage) SizeBytes(ctx context.Context) (int64, error) {
	if s.path != MemoryPath {
		return DatabaseFileSize(s.path)
	}
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

// LockKey is a no-op: SQLite transactions already serialize writers.
func (t *sqliteTx) LockKey(context.Context, string) error { return nil }

func (t *sqliteTx) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	row := t.tx.QueryRowContext(ctx, sqliteSummarySQL+` WHERE d.doc_id = ?`, docID)
	doc, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc.Document, nil
}

func (t *sqliteTx) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Version == 0 {
		doc.Version = 1
	}
	var created, updated timestamp
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO documents (doc_id, filename, hash, version, source_key) VALUES (?, ?, ?, ?, ?)
		 RETURNING created_at, updated_at`,
		doc.DocID, doc.Filename, doc.Hash, doc.Version, doc.SourceKey,
	).Scan(&created, &updated)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.CreatedAt, doc.UpdatedAt = time.Time(created), time.Time(updated)
	return nil
}

func (t *sqliteTx) BumpVersion(ctx context.Context, docID, hash, filename string) (int, error) {
	var version int
	err := t.tx.QueryRowContext(ctx,
		`UPDATE documents SET version = version + 1, hash = ?, filename = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE doc_id = ? RETURNING version`,
		hash, filename, docID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update document version: %w", err)
	}
	return version, nil
}

func (t *sqliteTx) CountChunks(ctx context.Context, docID string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, docID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) DeleteChunks(ctx context.Context, docID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertChunk(ctx context.Context, chunk *models.Chunk) (int64, error) {
	tags, err := encodeTags(chunk.Tags)
	if err != nil {
		return 0, err
	}
	var created timestamp
	err = t.tx.QueryRowContext(ctx,
		`INSERT INTO chunks (doc_id, page, content, tags, chunk_hash) VALUES (?, ?, ?, ?, ?) RETURNING id, created_at`,
		chunk.DocID, chunk.Page, chunk.Content, tags, chunk.ChunkHash,
	).Scan(&chunk.ID, &created)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk: %w", err)
	}
	chunk.CreatedAt = time.Time(created)
	return chunk.ID, nil
}

func (t *sqliteTx) InsertVector(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO kb_vectors (chunk_id, dim, embedding) VALUES (?, ?, ?)`,
		chunkID, len(embedding), vector.Encode(embedding))
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}

// timestamp scans SQLite CURRENT_TIMESTAMP values whether the driver
// hands them over parsed or as text.
type timestamp time.Time

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts = timestamp(v)
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		*ts = timestamp(time.Time{})
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts = timestamp(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
