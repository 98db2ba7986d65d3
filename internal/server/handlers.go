package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/extract"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/search"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decodeJSON(w, r, s.config.UploadLimit, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	s.logger.Debug("ingest request", zap.String("filename", req.Filename), zap.Int("bytes", len(req.Text)), zap.Bool("keyed", req.Key != ""))
	res, err := s.indexer.Ingest(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, "Ingestion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		s.respondError(w, http.StatusNotImplemented, "File ingest not enabled", "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.UploadLimit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Validation failed", "file: is required")
		return
	}
	defer file.Close()

	text, err := s.extractor.ExtractReader(file, header.Filename, s.config.UploadLimit)
	switch {
	case errors.Is(err, extract.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, "File too large", err.Error())
		return
	case errors.Is(err, extract.ErrUnsupportedFormat):
		s.respondError(w, http.StatusUnsupportedMediaType, "Unsupported file type", err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusUnprocessableEntity, "Failed to extract text", err.Error())
		return
	}

	var tags []string
	if raw := r.FormValue("tags"); strings.TrimSpace(raw) != "" {
		if tags, err = search.ParseTags(raw); err != nil {
			s.respondErr(w, r, "Ingestion failed", err)
			return
		}
	}
	res, err := s.indexer.Ingest(r.Context(), models.IngestRequest{
		Filename: header.Filename,
		Text:     text,
		Tags:     tags,
		Key:      r.FormValue("key"),
	})
	if err != nil {
		s.respondErr(w, r, "Ingestion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	models.Counts
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.Status(r.Context())
	if err != nil {
		s.respondErr(w, r, "Failed to get status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, statusResponse{Counts: counts, Timestamp: timestamp()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &models.SearchQuery{Query: q.Get("q")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondErr(w, r, "Invalid query", models.NewValidationError("limit: must be an integer"))
			return
		}
		query.Limit = &n
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondErr(w, r, "Invalid query", models.NewValidationError("threshold: must be a number"))
			return
		}
		query.Threshold = &f
	}
	s.logger.Debug("search request", zap.String("query", query.Query))
	resp, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, r, "Failed to process search query", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchTags(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.SearchByTags(r.Context(), r.URL.Query().Get("tags"))
	if err != nil {
		s.respondErr(w, r, "Tag search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type corpusStatsResponse struct {
	models.CorpusStats
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleSearchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, "Failed to get stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, corpusStatsResponse{CorpusStats: *stats, Timestamp: timestamp()})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset := defaultListLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			s.respondErr(w, r, "Invalid query", models.NewValidationError("limit: must be between 1 and 100"))
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondErr(w, r, "Invalid query", models.NewValidationError("offset: must be a non-negative integer"))
			return
		}
		offset = n
	}
	docs, err := s.storage.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, r, "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []*models.DocumentSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.storage.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondErr(w, r, "Failed to get document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	s.logger.Debug("delete document request", zap.String("doc_id", docID))
	if err := s.indexer.Delete(r.Context(), docID); err != nil {
		s.respondErr(w, r, "Failed to delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"doc_id": docID, "message": "Document deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "timestamp": timestamp()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": timestamp()})
}
