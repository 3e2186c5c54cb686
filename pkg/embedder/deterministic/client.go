// Package deterministic provides an offline embedding provider backed by the
// similarity kernel's content-seeded pseudo-embedding.
//
// It is used in tests, offline mode, and as the fallback target of the
// resilient wrapper when a real provider is unreachable. Identical text
// always produces the identical unit-norm vector, which keeps downstream
// similarity math well-defined without network access.
package deterministic

import (
	"context"

	"github.com/synaptek/memoria/pkg/similarity"
)

// Client implements embedder.Provider deterministically.
type Client struct {
	dimensions int
}

// NewClient creates a deterministic provider producing vectors of the given
// dimensionality. A non-positive value falls back to
// similarity.DefaultDimensions.
func NewClient(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = similarity.DefaultDimensions
	}
	return &Client{dimensions: dimensions}
}

// Embed returns the pseudo-embedding of text. It never fails.
func (c *Client) Embed(_ context.Context, text string) ([]float64, error) {
	return similarity.PseudoEmbedding(text, c.dimensions), nil
}

// EmbedBatch returns pseudo-embeddings for every text, in order.
func (c *Client) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embeddings[i] = similarity.PseudoEmbedding(text, c.dimensions)
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the provider holds no resources.
func (c *Client) Close() error {
	return nil
}
