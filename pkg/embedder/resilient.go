package embedder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/similarity"
)

// ResilientConfig controls retry and pacing behavior of the Resilient
// wrapper.
type ResilientConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Default: 2.
	MaxRetries int

	// RetryDelay is the base delay between attempts, doubled per retry.
	// Default: 200ms.
	RetryDelay time.Duration

	// ChunkSize is the maximum number of texts per upstream batch request.
	// Default: 32.
	ChunkSize int

	// ChunkDelay is the pause between sequential chunks, respecting
	// provider rate limits. Chunks are never issued concurrently.
	// Default: 100ms.
	ChunkDelay time.Duration
}

func (c *ResilientConfig) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 32
	}
	if c.ChunkDelay == 0 {
		c.ChunkDelay = 100 * time.Millisecond
	}
}

// Resilient wraps an embedding provider with bounded retries and a
// deterministic fallback, guaranteeing that Embed and EmbedBatch always
// return a usable vector.
//
// When the underlying provider keeps failing, the wrapper degrades to the
// content-seeded pseudo-embedding instead of surfacing the failure, so
// consolidation and indexing always make forward progress even when the
// provider is unavailable. Batch requests are split into sequential chunks
// with an inter-chunk delay to respect external rate limits.
type Resilient struct {
	provider Provider
	cfg      ResilientConfig
	logger   *zap.Logger
}

// NewResilient wraps provider. A nil provider means offline mode: every call
// goes straight to the deterministic fallback. A nil logger defaults to a
// no-op logger.
func NewResilient(provider Provider, cfg ResilientConfig, logger *zap.Logger) *Resilient {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{provider: provider, cfg: cfg, logger: logger}
}

// Embed embeds text, retrying on failure and falling back to the
// deterministic pseudo-embedding once retries are exhausted. It only fails
// when ctx is cancelled.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float64, error) {
	if r.provider != nil {
		var lastErr error
		for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				if err := sleepCtx(ctx, r.cfg.RetryDelay<<(attempt-1)); err != nil {
					return nil, err
				}
			}
			vec, err := r.provider.Embed(ctx, text)
			if err == nil {
				return vec, nil
			}
			lastErr = err
		}
		r.logger.Warn("embedding provider failed, using deterministic fallback",
			zap.Error(lastErr))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return similarity.PseudoEmbedding(text, r.Dimensions()), nil
}

// EmbedBatch embeds texts in sequential chunks of at most ChunkSize, pausing
// ChunkDelay between chunks. A failing chunk is retried like Embed and falls
// back per-text to the deterministic embedding, so the result always has one
// vector per input text.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, 0, len(texts))

	for start := 0; start < len(texts); start += r.cfg.ChunkSize {
		if start > 0 {
			if err := sleepCtx(ctx, r.cfg.ChunkDelay); err != nil {
				return nil, err
			}
		}

		end := start + r.cfg.ChunkSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		vecs, err := r.embedChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, vecs...)
	}

	return embeddings, nil
}

func (r *Resilient) embedChunk(ctx context.Context, chunk []string) ([][]float64, error) {
	if r.provider != nil {
		var lastErr error
		for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				if err := sleepCtx(ctx, r.cfg.RetryDelay<<(attempt-1)); err != nil {
					return nil, err
				}
			}
			vecs, err := r.provider.EmbedBatch(ctx, chunk)
			if err == nil && len(vecs) == len(chunk) {
				return vecs, nil
			}
			lastErr = err
		}
		r.logger.Warn("batch embedding failed, using deterministic fallback",
			zap.Int("chunk_size", len(chunk)), zap.Error(lastErr))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs := make([][]float64, len(chunk))
	for i, text := range chunk {
		vecs[i] = similarity.PseudoEmbedding(text, r.Dimensions())
	}
	return vecs, nil
}

// Dimensions returns the wrapped provider's dimensionality, or the fallback
// default when running offline.
func (r *Resilient) Dimensions() int {
	if r.provider != nil {
		return r.provider.Dimensions()
	}
	return similarity.DefaultDimensions
}

// Close closes the wrapped provider, if any.
func (r *Resilient) Close() error {
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
