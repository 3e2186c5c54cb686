// Package embedder provides interfaces for text embedding providers.
//
// The engine consumes embeddings through the Provider interface; the
// Resilient wrapper adds bounded retries, rate-limit friendly batch pacing,
// and a deterministic offline fallback so downstream similarity math always
// makes forward progress.
package embedder

import "context"

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, deterministic fallback, etc.) must
// implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	// The returned slice matches the order of the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by
	// this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
