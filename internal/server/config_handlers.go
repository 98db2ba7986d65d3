package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

// maxConfigBody bounds RagConfig request bodies.
const maxConfigBody = 64 << 10

type ragConfigResponse struct {
	Message   string              `json:"message"`
	Config    ragconfig.RagConfig `json:"config"`
	Timestamp string              `json:"timestamp"`
}

// decodePatch reads a partial config. An empty body is an empty patch.
func (s *Server) decodePatch(w http.ResponseWriter, r *http.Request) (ragconfig.Patch, bool) {
	var p ragconfig.Patch
	if err := decodeJSON(w, r, maxConfigBody, &p); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return p, false
	}
	return p, true
}

func (s *Server) handleGetRagConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, ragConfigResponse{
		Message:   "RAG configuration retrieved",
		Config:    s.rag.Load(r.Context()),
		Timestamp: timestamp(),
	})
}

func (s *Server) handlePatchRagConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodePatch(w, r)
	if !ok {
		return
	}
	cfg, changes, err := s.rag.Update(r.Context(), p)
	if err != nil {
		s.respondErr(w, r, "Failed to update configuration", err)
		return
	}
	msg := "No configuration changes"
	if len(changes) > 0 {
		msg = "RAG configuration updated"
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":   msg,
		"config":    cfg,
		"changes":   nonNil(changes),
		"timestamp": timestamp(),
	})
}

func (s *Server) handleValidateRagConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodePatch(w, r)
	if !ok {
		return
	}
	err := s.rag.Validate(r.Context(), p)
	var invalid *models.ValidationError
	switch {
	case errors.As(err, &invalid):
		s.respondJSON(w, http.StatusBadRequest, map[string]any{
			"valid":  false,
			"error":  "Validation failed",
			"errors": invalid.Fields,
		})
	case err != nil:
		s.respondErr(w, r, "Failed to validate configuration", err)
	default:
		s.respondJSON(w, http.StatusOK, map[string]any{
			"valid":   true,
			"message": "Configuration is valid",
			"config":  s.rag.Load(r.Context()).Apply(p),
		})
	}
}

func (s *Server) handleDiffRagConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodePatch(w, r)
	if !ok {
		return
	}
	changes := s.rag.Diff(r.Context(), p)
	msg := "No changes detected"
	if len(changes) > 0 {
		msg = fmt.Sprintf("%d change(s) detected", len(changes))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"changes":    nonNil(changes),
		"hasChanges": len(changes) > 0,
		"message":    msg,
	})
}

func (s *Server) handleResetRagConfig(w http.ResponseWriter, r *http.Request) {
	cfg, changes, err := s.rag.Reset(r.Context())
	if err != nil {
		s.respondErr(w, r, "Failed to reset configuration", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":   "RAG configuration reset to defaults",
		"config":    cfg,
		"changes":   nonNil(changes),
		"timestamp": timestamp(),
	})
}

func (s *Server) handleExportRagConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.rag.Export(r.Context())
	if err != nil {
		s.respondErr(w, r, "Failed to export configuration", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="rag-config.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
