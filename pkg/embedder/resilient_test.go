package embedder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptek/memoria/pkg/embedder"
	"github.com/synaptek/memoria/pkg/similarity"
)

// flakyProvider fails the first failures calls, then succeeds with a
// recognizable constant vector.
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Embed(_ context.Context, _ string) ([]float64, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("upstream unavailable")
	}
	return []float64{1, 0}, nil
}

func (p *flakyProvider) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("upstream unavailable")
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func (p *flakyProvider) Dimensions() int { return 2 }
func (p *flakyProvider) Close() error    { return nil }

func fastConfig() embedder.ResilientConfig {
	return embedder.ResilientConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		ChunkSize:  2,
		ChunkDelay: time.Millisecond,
	}
}

func TestResilientOfflineMode(t *testing.T) {
	r := embedder.NewResilient(nil, fastConfig(), nil)
	ctx := context.Background()

	vec, err := r.Embed(ctx, "offline text")
	require.NoError(t, err)
	assert.Equal(t, similarity.PseudoEmbedding("offline text", similarity.DefaultDimensions), vec)
	assert.Equal(t, similarity.DefaultDimensions, r.Dimensions())
	assert.NoError(t, r.Close())
}

func TestResilientRetriesThenSucceeds(t *testing.T) {
	provider := &flakyProvider{failures: 2}
	r := embedder.NewResilient(provider, fastConfig(), nil)

	vec, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec, "the third attempt reaches the provider")
	assert.Equal(t, 3, provider.calls)
}

func TestResilientFallsBackAfterRetries(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	r := embedder.NewResilient(provider, fastConfig(), nil)

	vec, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, similarity.PseudoEmbedding("text", 2), vec,
		"exhausted retries degrade to the deterministic embedding")
}

func TestResilientBatchChunksAndFallsBack(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	r := embedder.NewResilient(provider, fastConfig(), nil)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := r.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts), "one vector per input, always")
	for i, text := range texts {
		assert.Equal(t, similarity.PseudoEmbedding(text, 2), vecs[i])
	}
}

func TestResilientBatchPassesThrough(t *testing.T) {
	provider := &flakyProvider{failures: 0}
	r := embedder.NewResilient(provider, fastConfig(), nil)

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{1, 0}, vecs[0])
}

func TestResilientHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := embedder.NewResilient(nil, fastConfig(), nil)
	_, err := r.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
}
