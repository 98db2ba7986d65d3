package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyEmbedder struct {
	failures    int
	err         error
	calls       int
	sawDeadline bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	f.calls++
	_, f.sawDeadline = ctx.Deadline()
	if f.calls <= f.failures {
		return Embedding{}, f.err
	}
	return Embedding{Vector: []float32{1}, TokenCount: 1}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		e, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (f *flakyEmbedder) Dimensions() int { return 1 }
func (f *flakyEmbedder) Close() error    { return nil }

func TestRetryEmbedder_retriesTransient(t *testing.T) {
	f := &flakyEmbedder{failures: 2, err: errors.New("503")}
	r := NewRetryEmbedder(f, WithBaseDelay(time.Millisecond), WithMaxRetries(3), WithTimeout(time.Second))
	if _, err := r.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
	if !f.sawDeadline {
		t.Error("attempt context should carry a deadline")
	}
}

func TestRetryEmbedder_givesUp(t *testing.T) {
	f := &flakyEmbedder{failures: 10, err: errors.New("503")}
	r := NewRetryEmbedder(f, WithBaseDelay(time.Millisecond), WithMaxRetries(2))
	if _, err := r.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", f.calls)
	}
}

func TestRetryEmbedder_permanentNotRetried(t *testing.T) {
	f := &flakyEmbedder{failures: 10, err: Permanent(errors.New("401"))}
	r := NewRetryEmbedder(f, WithBaseDelay(time.Millisecond), WithMaxRetries(5))
	_, err := r.Embed(context.Background(), "x")
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}
