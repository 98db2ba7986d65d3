package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/models"
)

// errorBody is the shape of every error response. Optional fields are
// filled in by the error kind.
type errorBody struct {
	Error        string   `json:"error"`
	Message      string   `json:"message,omitempty"`
	Details      []string `json:"details,omitempty"`
	MaxLength    int      `json:"maxLength,omitempty"`
	ActualLength int      `json:"actualLength,omitempty"`
	Expected     int      `json:"expected,omitempty"`
	Actual       int      `json:"actual,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, summary, message string) {
	s.respondJSON(w, status, errorBody{Error: summary, Message: message})
}

// respondErr maps err onto a status code and body. summary describes the
// failed operation and is used for errors without a more specific kind.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, summary string, err error) {
	var (
		tooLarge *models.TextTooLargeError
		invalid  *models.ValidationError
		dim      *models.DimensionMismatchError
	)
	switch {
	case errors.As(err, &tooLarge):
		s.respondJSON(w, http.StatusBadRequest, errorBody{
			Error:        "Text too long",
			Message:      err.Error(),
			MaxLength:    tooLarge.MaxLength,
			ActualLength: tooLarge.ActualLength,
		})
	case errors.As(err, &invalid):
		s.respondJSON(w, http.StatusBadRequest, errorBody{
			Error:   "Validation failed",
			Message: err.Error(),
			Details: invalid.Fields,
		})
	case errors.Is(err, models.ErrValidation):
		s.respondError(w, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.As(err, &dim):
		s.logger.Error(summary, zap.Error(err), zap.String("path", r.URL.Path))
		s.respondJSON(w, http.StatusInternalServerError, errorBody{
			Error:    "Embedding dimension mismatch",
			Message:  err.Error(),
			Expected: dim.Expected,
			Actual:   dim.Actual,
		})
	case errors.Is(err, models.ErrStorageUnavailable):
		s.logger.Error(summary, zap.Error(err), zap.String("path", r.URL.Path))
		s.respondError(w, http.StatusServiceUnavailable, "Storage unavailable", err.Error())
	default:
		s.logger.Error(summary, zap.Error(err), zap.String("path", r.URL.Path))
		s.respondError(w, http.StatusInternalServerError, summary, err.Error())
	}
}

// decodeJSON decodes a body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	return json.NewDecoder(body).Decode(v)
}
