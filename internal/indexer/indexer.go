package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/embedding"
	"github.com/hyperjump/tebiki/internal/metrics"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
	"github.com/hyperjump/tebiki/internal/storage"
)

// ConfigSource supplies the retrieval configuration for one call.
// *ragconfig.Manager implements it.
type ConfigSource interface {
	Load(ctx context.Context) ragconfig.RagConfig
}

// TextExtractor turns a file into plain text. *extract.Extractor implements it.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Indexer runs the ingest pipeline: identity, chunking, embedding and
// transactional persistence.
type Indexer struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	config    ConfigSource
	locks     *keyLocks
	extractor TextExtractor
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger. Skipped vectors are logged at Warn.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithExtractor sets the extractor used by IngestFile. Without one, files are read as text.
func WithExtractor(e TextExtractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithTimeout bounds each ingest, transaction included. Zero means no bound.
func WithTimeout(d time.Duration) IndexerOption {
	return func(idx *Indexer) { idx.timeout = d }
}

// WithMetrics records ingest outcomes.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer over the given store, embedder and configuration.
func NewIndexer(store storage.Storage, embedder embedding.Embedder, cfg ConfigSource, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:  store,
		embedder: embedder,
		config:   cfg,
		locks:    newKeyLocks(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest stores req as a document. Text already stored under the same
// document id is a no-op. Otherwise the document is created or its version
// bumped, and its chunks and vectors are regenerated in one transaction.
// Embeddings of the wrong dimension are reported in the result instead of
// failing the call.
func (idx *Indexer) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	start := time.Now()
	res, err := idx.ingest(ctx, req, start)
	elapsed := time.Since(start)

	switch {
	case err == nil && res.Unchanged:
		idx.metrics.ObserveIngest(metrics.OutcomeUnchanged, elapsed, 0, 0)
	case err == nil:
		idx.metrics.ObserveIngest(metrics.OutcomeSuccess, elapsed, res.Stats.TotalTokens, len(res.Skipped))
	case errors.Is(err, models.ErrValidation):
		idx.metrics.ObserveIngest(metrics.OutcomeInvalid, elapsed, 0, 0)
	default:
		idx.metrics.ObserveIngest(metrics.OutcomeError, elapsed, 0, 0)
	}
	return res, err
}

func (idx *Indexer) ingest(ctx context.Context, req models.IngestRequest, start time.Time) (*models.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := idx.config.Load(ctx)
	if n := utf8.RuneCountInString(req.Text); n > cfg.MaxTextLength {
		return nil, &models.TextTooLargeError{MaxLength: cfg.MaxTextLength, ActualLength: n}
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	docID := docid.Resolve(req.Key, req.Text)
	hash := docid.Hash(req.Text)
	logger := idx.logger.With(zap.String("doc_id", docID), zap.String("filename", req.Filename))

	if idx.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, idx.timeout)
		defer cancel()
	}
	unlock, err := idx.locks.Lock(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	defer unlock()

	res := &models.IngestResult{DocID: docID, Skipped: []models.SkippedVector{}}
	err = idx.storage.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// Reset on entry so a retried callback starts clean.
		*res = models.IngestResult{DocID: docID, Skipped: []models.SkippedVector{}}

		if err := tx.LockKey(ctx, docID); err != nil {
			return err
		}
		existing, err := tx.GetDocument(ctx, docID)
		switch {
		case err == nil && existing.Hash == hash:
			n, err := tx.CountChunks(ctx, docID)
			if err != nil {
				return err
			}
			res.Chunks, res.Version, res.Unchanged = n, existing.Version, true
			res.Message = models.MessageUnchanged
			res.Stats.TotalChunks = n
			return nil
		case err == nil:
			if res.Version, err = tx.BumpVersion(ctx, docID, hash, req.Filename); err != nil {
				return err
			}
		case errors.Is(err, models.ErrNotFound):
			doc := &models.Document{DocID: docID, Filename: req.Filename, Hash: hash, Version: 1}
			if req.Key != "" {
				doc.SourceKey = &req.Key
			}
			if err := tx.CreateDocument(ctx, doc); err != nil {
				return err
			}
			res.Version = doc.Version
		default:
			return err
		}

		if err := tx.DeleteChunks(ctx, docID); err != nil {
			return err
		}
		chunks := chunker.Chunk(req.Text)
		if len(chunks) == 0 {
			return models.ErrZeroChunks
		}
		tags := req.Tags
		if tags == nil {
			tags = []string{}
		}
		ids := make([]int64, len(chunks))
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			id, err := tx.InsertChunk(ctx, &models.Chunk{
				DocID:     docID,
				Page:      c.Page,
				Content:   c.Content,
				Tags:      tags,
				ChunkHash: c.Hash,
			})
			if err != nil {
				return err
			}
			ids[i], texts[i] = id, c.Content
		}

		embs, err := embedding.EmbedAll(ctx, idx.embedder, texts, cfg.BatchSize)
		if err != nil {
			return err
		}
		for i, e := range embs {
			if len(e.Vector) != cfg.EmbedDim {
				logger.Warn("skipping vector with wrong dimension",
					zap.Int64("chunk_id", ids[i]),
					zap.Int("page", chunks[i].Page),
					zap.Int("expected", cfg.EmbedDim),
					zap.Int("actual", len(e.Vector)))
				res.Skipped = append(res.Skipped, models.SkippedVector{
					ChunkID:  ids[i],
					Page:     chunks[i].Page,
					Expected: cfg.EmbedDim,
					Actual:   len(e.Vector),
				})
				continue
			}
			if err := tx.InsertVector(ctx, ids[i], e.Vector); err != nil {
				return err
			}
			res.Stats.VectorsStored++
		}

		res.Chunks = len(chunks)
		res.Message = models.MessageIngested
		res.Stats.TotalChunks = len(chunks)
		res.Stats.TotalTokens = embedding.TotalTokens(embs)
		return nil
	})
	if err != nil {
		logger.Error("ingest rolled back", zap.Error(err))
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	res.Stats.ProcessingTime = time.Since(start).Milliseconds()

	logger.Info("document ingested",
		zap.Int("chunks", res.Chunks),
		zap.Int("version", res.Version),
		zap.Bool("unchanged", res.Unchanged),
		zap.Int("vectors", res.Stats.VectorsStored),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int64("processing_ms", res.Stats.ProcessingTime))
	return res, nil
}

// Delete removes a document; its chunks and vectors cascade.
func (idx *Indexer) Delete(ctx context.Context, docID string) error {
	unlock, err := idx.locks.Lock(ctx, docID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := idx.storage.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	idx.logger.Info("document deleted", zap.String("doc_id", docID))
	return nil
}

// IngestFile extracts the text of the file at path and ingests it under
// key with the file's base name as filename. An empty key makes the
// document content-addressed.
func (idx *Indexer) IngestFile(ctx context.Context, path, key string, tags []string) (*models.IngestResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	text, err := idx.extractContent(path)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	return idx.Ingest(ctx, models.IngestRequest{
		Filename: filepath.Base(path),
		Text:     text,
		Tags:     tags,
		Key:      key,
	})
}

// IngestDirectory walks dir recursively and ingests each regular file whose
// extension is in allowedExts (all files when empty), keyed by its path
// relative to dir. It returns the number of files ingested and the first error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string, tags []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		if finfo, statErr := os.Stat(path); statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, ingestErr := idx.IngestFile(ctx, path, docid.FileKey(absDir, path), tags); ingestErr != nil {
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		n++
		return nil
	})
	return n, err
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and
// leading dots. An empty allowed list admits everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
