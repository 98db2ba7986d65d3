package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Options configures Open.
type Options struct {
	Pool PoolOptions
	// Migrate applies the embedded schema migrations before returning.
	Migrate bool
	// VectorDim, when positive, ensures a Postgres HNSW index for that dimension.
	VectorDim int
	Logger    *zap.Logger
}

// Open returns the backend selected by the URL scheme:
// postgres:// and postgresql:// open PostgreSQL, sqlite://<path> and
// sqlite::memory: open SQLite.
func Open(ctx context.Context, url string, opts Options) (Storage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		if opts.Migrate {
			if err := MigratePostgres(ctx, url, logger); err != nil {
				return nil, err
			}
		}
		s, err := NewPostgresStorage(ctx, url, opts.Pool, logger)
		if err != nil {
			return nil, err
		}
		if opts.VectorDim > 0 {
			if err := s.EnsureVectorIndex(ctx, opts.VectorDim); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		logger.Info("storage opened", zap.String("backend", "postgres"))
		return s, nil
	case url == "sqlite::memory:":
		return NewSQLiteStorage(ctx, MemoryPath, logger)
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite url %q has no path", url)
		}
		s, err := NewSQLiteStorage(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("storage opened", zap.String("backend", "sqlite"), zap.String("path", path))
		return s, nil
	}
	return nil, fmt.Errorf("unsupported database url scheme: %q", redact(url))
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	if len(url) > 12 {
		return url[:12] + "..."
	}
	return url
}
