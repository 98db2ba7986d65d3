package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, WithRetries(0))
	require.NoError(t, err)
	return c
}

func intPtr(v int) *int { return &v }

func TestNew_InvalidURL(t *testing.T) {
	for _, u := range []string{"localhost:8080", "ftp://host", "http://"} {
		_, err := New(u)
		assert.Error(t, err, u)
	}
}

func TestClient_Ingest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", func(w http.ResponseWriter, r *http.Request) {
		var req models.IngestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a.txt", req.Filename)
		writeJSON(w, http.StatusOK, models.IngestResult{DocID: "abc", Chunks: 2, Version: 1, Message: models.MessageIngested})
	})
	c := newClient(t, mux)

	res, err := c.Ingest(context.Background(), models.IngestRequest{Filename: "a.txt", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.DocID)
	assert.Equal(t, 2, res.Chunks)
}

func TestClient_IngestError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Text too long", "message": "text too long", "maxLength": 1000, "actualLength": 1200,
		})
	})
	c := newClient(t, mux)

	_, err := c.Ingest(context.Background(), models.IngestRequest{Filename: "a.txt", Text: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 1000, apiErr.MaxLength)
	assert.Contains(t, apiErr.Error(), "status 400")
}

func TestClient_IngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# notes"), 0600))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest/file", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, h, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "notes.md", h.Filename)
		assert.Equal(t, "# notes", string(data))
		assert.Equal(t, "docs/notes.md", r.FormValue("key"))
		assert.Equal(t, "a,b", r.FormValue("tags"))
		writeJSON(w, http.StatusOK, models.IngestResult{DocID: "k", Version: 1})
	})
	c := newClient(t, mux)

	res, err := c.IngestFile(context.Background(), path, "docs/notes.md", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "k", res.DocID)
}

func TestClient_Search(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "vector search", q.Get("q"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.False(t, q.Has("threshold"))
		writeJSON(w, http.StatusOK, models.SearchResponse{
			Results: []*models.SearchResult{{ID: 1, Score: 0.8, Filename: "a.txt"}},
			Message: "Found 1 relevant chunks",
		})
	})
	c := newClient(t, mux)

	res, err := c.Search(context.Background(), models.SearchQuery{Query: "vector search", Limit: intPtr(5)})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a.txt", res.Results[0].Filename)
}

func TestClient_SearchByTagsAndStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search/tags", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "go,rag", r.URL.Query().Get("tags"))
		writeJSON(w, http.StatusOK, models.TagSearchResponse{Tags: []string{"go", "rag"}, Count: 0})
	})
	mux.HandleFunc("GET /api/search/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": 3,
			"chunks":    9,
			"vectors":   9,
			"topTags":   []map[string]any{{"tag": "go", "count": 4}},
			"timestamp": "2026-01-01T00:00:00Z",
		})
	})
	c := newClient(t, mux)

	tags, err := c.SearchByTags(context.Background(), []string{"go", "rag"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rag"}, tags.Tags)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Documents)
	assert.Equal(t, []models.TagCount{{Tag: "go", Count: 4}}, stats.TopTags)
}

func TestClient_ValidateRagConfig(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/config/rag/validate", func(w http.ResponseWriter, r *http.Request) {
		var p ragconfig.Patch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if p.ChunkSize != nil && *p.ChunkSize < 100 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"valid": false, "error": "Validation failed", "errors": []string{"chunkSize: must be between 100 and 2000"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "Configuration is valid", "config": ragconfig.Defaults()})
	})
	c := newClient(t, mux)

	res, err := c.ValidateRagConfig(context.Background(), ragconfig.Patch{ChunkSize: intPtr(50)})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"chunkSize: must be between 100 and 2000"}, res.Errors)

	res, err = c.ValidateRagConfig(context.Background(), ragconfig.Patch{ChunkSize: intPtr(500)})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, ragconfig.Defaults(), res.Config)
}

func TestClient_GetDocumentNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found", "message": "document x: not found"})
	})
	c := newClient(t, mux)

	_, err := c.GetDocument(context.Background(), "x")
	assert.True(t, IsNotFound(err))
}

func TestClient_RetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, WithRetries(2))
	require.NoError(t, err)

	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}
