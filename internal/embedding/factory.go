package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// New returns the embedder for opts.Provider. Provider-backed embedders are
// wrapped in a RetryEmbedder so every call carries a deadline.
func New(opts Options) (Embedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Provider {
	case ProviderMock:
		return NewMockEmbedder(opts.Dimensions), nil
	case ProviderOpenAI, "":
		model := opts.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		counter, err := NewTokenCounter(model)
		if err != nil {
			logger.Warn("token encoding unavailable, using API usage totals", zap.Error(err))
			counter = nil
		}
		oe, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      model,
			Dimensions: opts.Dimensions,
		}, counter)
		if err != nil {
			return nil, err
		}
		return NewRetryEmbedder(oe,
			WithTimeout(opts.Timeout),
			WithMaxRetries(opts.MaxRetries),
			WithRetryLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
}
