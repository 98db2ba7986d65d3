package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(SplitWords(text)) }

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]string) {
	t.Helper()
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = body.Input
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		// Answer in reverse order to exercise reordering by index.
		data := make([]map[string]any, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), 1, 0},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]any{"prompt_tokens": 10, "total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestOpenAIEmbedder_ordersByIndex(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"}, wordCounter{})
	require.NoError(t, err)

	embs, err := e.EmbedBatch(context.Background(), []string{"check oil", "start engine now", "stop"})
	require.NoError(t, err)
	require.Len(t, embs, 3)
	assert.Equal(t, []string{"check oil", "start engine now", "stop"}, *received)
	for i, emb := range embs {
		assert.Equal(t, float32(i), emb.Vector[0], "embedding %d misplaced", i)
	}
	assert.Equal(t, []int{2, 3, 1}, []int{embs[0].TokenCount, embs[1].TokenCount, embs[2].TokenCount})
}

func TestOpenAIEmbedder_apportionsUsageWithoutCounter(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	embs, err := e.EmbedBatch(context.Background(), []string{"aaaa", "bbbb"})
	require.NoError(t, err)
	assert.Equal(t, 10, TotalTokens(embs))
}

func TestOpenAIEmbedder_clientErrorIsPermanent(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadRequest)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestOpenAIEmbedder_requiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestNew_providers(t *testing.T) {
	e, err := New(Options{Provider: ProviderMock, Dimensions: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, e.Dimensions())

	_, err = New(Options{Provider: "onnx"})
	assert.Error(t, err)
}
