package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultOpenAIModel is the embedding model used when none is configured.
	DefaultOpenAIModel = "text-embedding-3-small"
	// maxInputChars approximates the 8192-token input limit at four characters per token.
	maxInputChars = 8192 * 4
)

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint, one request per batch.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	counter    TokenCounter
}

// NewOpenAIEmbedder returns an embedder for cfg. A nil counter means token
// counts are apportioned from the usage the API reports per request.
func NewOpenAIEmbedder(cfg OpenAIConfig, counter TokenCounter) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by RetryEmbedder.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		counter:    counter,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	embs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return embs[0], nil
}

// EmbedBatch sends texts in one request and reorders the response by its
// index field so result i always belongs to texts[i].
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return []Embedding{}, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, Permanent(fmt.Errorf("text %d cannot be empty", i))
		}
		inputs[i] = truncateRunes(t, maxInputChars)
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimensions > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings", ErrBatchLength, len(texts), len(resp.Data))
	}

	out := make([]Embedding, len(texts))
	seen := make([]bool, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(texts) || seen[idx] {
			return nil, fmt.Errorf("%w: invalid response index %d", ErrBatchLength, d.Index)
		}
		seen[idx] = true
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[idx] = Embedding{Vector: vec}
	}
	e.assignTokens(out, inputs, int(resp.Usage.TotalTokens))
	return out, nil
}

// assignTokens sets per-text token counts, from the counter when present,
// otherwise by splitting total in proportion to text length.
func (e *OpenAIEmbedder) assignTokens(out []Embedding, inputs []string, total int) {
	if e.counter != nil {
		for i, t := range inputs {
			out[i].TokenCount = e.counter.Count(t)
		}
		return
	}
	chars := 0
	for _, t := range inputs {
		chars += len(t)
	}
	if chars == 0 {
		return
	}
	assigned := 0
	for i, t := range inputs {
		n := total * len(t) / chars
		out[i].TokenCount = n
		assigned += n
	}
	out[len(out)-1].TokenCount += total - assigned
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("openai embeddings: %w", err)
		}
		return Permanent(fmt.Errorf("openai embeddings: %w", err))
	}
	return fmt.Errorf("openai embeddings: %w", err)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Dimensions returns the requested output dimension, or 0 when the model default is used.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op; the HTTP client holds no resources needing release.
func (e *OpenAIEmbedder) Close() error { return nil }
