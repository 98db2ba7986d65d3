// Package server provides the HTTP API for tebiki.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/internal/indexer"
	"github.com/hyperjump/tebiki/internal/metrics"
	"github.com/hyperjump/tebiki/internal/ragconfig"
	"github.com/hyperjump/tebiki/internal/search"
	"github.com/hyperjump/tebiki/internal/storage"
)

// TextExtractor turns an uploaded file into text; name selects the format.
type TextExtractor interface {
	ExtractReader(r io.Reader, name string, limit int64) (string, error)
}

// Server is the HTTP server for the tebiki API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	storage   storage.Storage
	rag       *ragconfig.Manager
	extractor TextExtractor
	metrics   *metrics.Metrics
	config    *config.ServerConfig
	logger    *zap.Logger

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithExtractor enables POST /api/ingest/file.
func WithExtractor(e TextExtractor) Option {
	return func(s *Server) { s.extractor = e }
}

// WithMetrics serves m on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	rag *ragconfig.Manager,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		indexer: idx,
		storage: store,
		rag:     rag,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router. It fails only on an invalid rate limit.
func (s *Server) Handler() (http.Handler, error) {
	limit, err := s.rateLimit(s.config.RateLimit)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.With(limit).Post("/api/ingest", s.handleIngest)
	r.With(limit).Post("/api/ingest/file", s.handleIngestFile)
	r.Get("/api/ingest/status", s.handleIngestStatus)

	r.Get("/api/search", s.handleSearch)
	r.Get("/api/search/tags", s.handleSearchTags)
	r.Get("/api/search/stats", s.handleSearchStats)

	r.Route("/api/config/rag", func(r chi.Router) {
		r.Get("/", s.handleGetRagConfig)
		r.Patch("/", s.handlePatchRagConfig)
		r.Post("/validate", s.handleValidateRagConfig)
		r.Post("/diff", s.handleDiffRagConfig)
		r.Post("/reset", s.handleResetRagConfig)
		r.Get("/export", s.handleExportRagConfig)
	})

	r.Get("/api/documents", s.handleListDocuments)
	r.Get("/api/documents/{docID}", s.handleGetDocument)
	r.Delete("/api/documents/{docID}", s.handleDeleteDocument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r, nil
}

// Start starts the HTTP server and blocks until it stops.
// It returns nil after a graceful Stop, including a Stop that came first.
func (s *Server) Start() error {
	h, err := s.Handler()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server. A later Start returns immediately.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
