package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/internal/embedding"
	"github.com/hyperjump/tebiki/internal/extract"
	"github.com/hyperjump/tebiki/internal/indexer"
	"github.com/hyperjump/tebiki/internal/metrics"
	"github.com/hyperjump/tebiki/internal/ragconfig"
	"github.com/hyperjump/tebiki/internal/search"
	"github.com/hyperjump/tebiki/internal/server"
	"github.com/hyperjump/tebiki/internal/storage"
	"github.com/hyperjump/tebiki/internal/watcher"
	"github.com/hyperjump/tebiki/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func newServerCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), g)
		},
	}
}

func runServer(ctx context.Context, g *globalFlags) error {
	cfg, resolvedConfigPath, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	debugMode := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if len(cfg.Watch.Directories) > 0 {
		w := watcher.New(c.indexer, cfg.Watch,
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		go func() {
			n := w.Sync(ctx)
			logger.Info("initial sync complete", zap.Int("files", n), zap.Strings("directories", w.Directories()))
		}()
	}

	srv := server.NewServer(c.engine, c.indexer, c.storage, c.rag, &cfg.Server, logger,
		server.WithExtractor(c.extractor),
		server.WithMetrics(c.metrics),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// components holds initialized services.
type components struct {
	storage       storage.Storage
	embedder      embedding.Embedder
	queryEmbedder embedding.Embedder
	rag           *ragconfig.Manager
	metrics       *metrics.Metrics
	extractor     *extract.Extractor
	engine        *search.Engine
	indexer       *indexer.Indexer
}

func (c *components) Close() {
	if c.queryEmbedder != nil {
		_ = c.queryEmbedder.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.storage != nil {
		_ = c.storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.Open(ctx, cfg.Database.URL, storage.Options{
		Pool: storage.PoolOptions{
			MaxConns:       cfg.Database.MaxConns,
			MinConns:       cfg.Database.MinConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		},
		Migrate: cfg.Database.AutoMigrateOrDefault(),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &components{storage: store}

	ragStore, err := newRagStore(cfg, store)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.rag = ragconfig.NewManager(ragStore, ragconfig.WithLogger(logger))

	// Both embedders follow embedDim, so a config update needs no restart.
	configuredDim := func(ctx context.Context) int { return c.rag.Load(ctx).EmbedDim }
	newEmbedder := func(dim int) (embedding.Embedder, error) {
		return embedding.New(embedding.Options{
			Provider:   cfg.Embedding.Provider,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: dim,
			Timeout:    cfg.Embedding.Timeout,
			MaxRetries: cfg.Embedding.MaxRetries,
			Logger:     logger,
		})
	}
	ingestEmbedder, err := embedding.NewResizingEmbedder(ctx, configuredDim, func(ctx context.Context, dim int) (embedding.Embedder, error) {
		// The HNSW index is per dimension.
		if pg, ok := store.(*storage.PostgresStorage); ok {
			if err := pg.EnsureVectorIndex(ctx, dim); err != nil {
				return nil, fmt.Errorf("failed to ensure vector index: %w", err)
			}
		}
		logger.Info("embedder initialized",
			zap.String("provider", cfg.Embedding.Provider),
			zap.Int("dimensions", dim),
		)
		return newEmbedder(dim)
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.embedder = ingestEmbedder
	queryEmbedder, err := embedding.NewResizingEmbedder(ctx, configuredDim, func(_ context.Context, dim int) (embedding.Embedder, error) {
		e, err := newEmbedder(dim)
		if err != nil {
			return nil, err
		}
		cached, err := embedding.NewCachedEmbedder(e, cfg.Embedding.CacheSize)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to initialize query cache: %w", err)
		}
		return cached, nil
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize query embedder: %w", err)
	}
	c.queryEmbedder = queryEmbedder

	c.metrics = metrics.New()
	c.extractor = extract.NewExtractor()
	c.indexer = indexer.NewIndexer(store, c.embedder, c.rag,
		indexer.WithLogger(logger),
		indexer.WithExtractor(c.extractor),
		indexer.WithTimeout(cfg.Database.IngestTimeout),
		indexer.WithMetrics(c.metrics),
	)
	c.engine = search.NewEngine(store, c.queryEmbedder, c.rag,
		search.WithLogger(logger),
		search.WithMetrics(c.metrics),
	)
	return c, nil
}

// newRagStore selects where the RagConfig document lives.
func newRagStore(cfg *config.Config, store storage.Storage) (ragconfig.Store, error) {
	switch strings.ToLower(cfg.Rag.Store) {
	case config.RagStoreFile, "":
		return ragconfig.NewFileStore(cfg.Rag.ConfigPath), nil
	case config.RagStorePostgres:
		pg, ok := store.(*storage.PostgresStorage)
		if !ok {
			return nil, fmt.Errorf("rag.store %q requires a postgres database url", cfg.Rag.Store)
		}
		return ragconfig.NewPostgresStore(pg.Pool()), nil
	default:
		return nil, fmt.Errorf("unsupported rag.store %q", cfg.Rag.Store)
	}
}

func newMigrateCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(g.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			logger, err := utils.NewLogger(cfg.Debug || g.debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			// SQLite migrates on open; Postgres goes through the advisory-locked path.
			store, err := storage.Open(cmd.Context(), cfg.Database.URL, storage.Options{Migrate: true, Logger: logger})
			if err != nil {
				return err
			}
			_ = store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}
