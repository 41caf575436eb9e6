// Copyright 2025 Certen Protocol

package engine

import (
	"context"
	"strings"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/window"
)

// EmbedderPort is the external embedding model CORTEX calls to turn
// fact content into a vector for the L2 store. No real provider
// binding ships in this module; callers supply their own.
type EmbedderPort interface {
	Embed(ctx context.Context, content string) ([]float64, error)
}

// SummarizerPort is the external summarization model used to compress
// an evicted L1 window batch into a single meta_learning fact.
type SummarizerPort interface {
	Summarize(ctx context.Context, entries []window.Entry) (string, error)
}

// NotifierPort is an optional sink for engine-level events (deferred
// embeddings, privacy detections, consensus transitions). The default
// adapter discards everything.
type NotifierPort interface {
	Notify(ctx context.Context, event, detail string) error
}

// noopEmbedder always reports EmbeddingDeferred, matching spec.md
// §4.G's "if no summarizer is configured" non-fatal degrade path for an
// engine built with no external embedding provider wired in.
type noopEmbedder struct{}

func (noopEmbedder) Embed(ctx context.Context, content string) ([]float64, error) {
	return nil, errs.New(errs.KindEmbeddingDeferred, "no embedder configured", nil)
}

// noopSummarizer stores a concatenation placeholder instead of a real
// summary, per spec.md §4.G's explicit fallback.
type noopSummarizer struct{}

func (noopSummarizer) Summarize(ctx context.Context, entries []window.Entry) (string, error) {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Content
	}
	return strings.Join(parts, "\n---\n"), nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, event, detail string) error { return nil }

// retryingEmbedder wraps an EmbedderPort with a bounded number of
// attempts before degrading to EmbeddingDeferred, so a transient
// provider error doesn't immediately fall back to the placeholder path.
type retryingEmbedder struct {
	inner       EmbedderPort
	maxAttempts int
}

func newRetryingEmbedder(inner EmbedderPort, maxAttempts int) *retryingEmbedder {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &retryingEmbedder{inner: inner, maxAttempts: maxAttempts}
}

func (r *retryingEmbedder) Embed(ctx context.Context, content string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		vec, err := r.inner.Embed(ctx, content)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs.New(errs.KindEmbeddingDeferred, "embedder failed after bounded retries", lastErr)
}
