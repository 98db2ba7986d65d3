package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// permanentError marks a provider failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so RetryEmbedder returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryEmbedder bounds every provider call with a timeout and retries
// transient failures with exponential backoff.
type RetryEmbedder struct {
	inner      Embedder
	timeout    time.Duration
	maxRetries uint64
	baseDelay  time.Duration
	logger     *zap.Logger
}

// RetryOption configures a RetryEmbedder.
type RetryOption func(*RetryEmbedder)

// WithTimeout bounds each attempt. Zero disables the per-attempt deadline.
func WithTimeout(d time.Duration) RetryOption {
	return func(r *RetryEmbedder) { r.timeout = d }
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) RetryOption {
	return func(r *RetryEmbedder) {
		if n >= 0 {
			r.maxRetries = uint64(n)
		}
	}
}

// WithBaseDelay sets the first backoff interval.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *RetryEmbedder) { r.baseDelay = d }
}

// WithRetryLogger sets the logger used to report retried attempts.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(r *RetryEmbedder) { r.logger = logger }
}

// NewRetryEmbedder wraps inner. Defaults: 30s timeout, 2 retries, 500ms base delay.
func NewRetryEmbedder(inner Embedder, opts ...RetryOption) *RetryEmbedder {
	r := &RetryEmbedder{
		inner:      inner,
		timeout:    30 * time.Second,
		maxRetries: 2,
		baseDelay:  500 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetryEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	var out Embedding
	err := r.do(ctx, func(ctx context.Context) error {
		emb, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = emb
		return nil
	})
	return out, err
}

func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	var out []Embedding
	err := r.do(ctx, func(ctx context.Context) error {
		embs, err := r.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = embs
		return nil
	})
	return out, err
}

func (r *RetryEmbedder) do(ctx context.Context, call func(context.Context) error) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.baseDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || errors.Is(err, ErrBatchLength) || ctx.Err() != nil {
			return err
		}
		r.logger.Warn("embedding attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		return retry.RetryableError(err)
	})
}

func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *RetryEmbedder) Close() error { return r.inner.Close() }
