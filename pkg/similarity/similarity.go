// Package similarity provides the pure vector-math primitives of the memory
// engine: cosine similarity, deterministic pseudo-embeddings, content
// hashing, and candidate clustering.
//
// Nothing in this package touches storage or the network. Clustering
// operates over bounded candidate sets handed in by the caller (a single
// owner's recent memories), never over a whole corpus.
package similarity

import (
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimensions is the embedding dimensionality used when no provider
// dictates one. Matches the fallback pseudo-embedding size.
const DefaultDimensions = 256

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns a value between -1.0 and 1.0, or 0.0 when the vectors have
// different dimensions or either has zero norm. It never divides by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize normalizes a vector to unit length (L2 norm).
// A zero-norm vector is returned unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)

	if norm == 0 {
		return v
	}

	result := make([]float64, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// PseudoEmbedding produces a deterministic, content-seeded embedding for the
// given text.
//
// The construction seeds an FNV-64a hash with the text, then generates each
// component from trigonometric functions of the seed and component index.
// The result is L2-normalized, so it satisfies the same contract as a real
// provider embedding (fixed dimensionality, unit norm) without any network
// access. Identical text always yields the identical vector.
//
// This is a fallback for offline and test operation, not a semantic
// embedding: similarity between pseudo-embeddings only reflects exact
// content identity, not meaning.
func PseudoEmbedding(text string, dims int) []float64 {
	if dims <= 0 {
		dims = DefaultDimensions
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % 1000003)

	v := make([]float64, dims)
	for i := range v {
		x := seed + float64(i)
		v[i] = math.Sin(x)*math.Cos(x/7.0) + math.Sin(x/13.0)
	}

	return Normalize(v)
}

// ContentHash computes a cheap, non-cryptographic hash over the normalized
// tokens of the text (lowercased, whitespace-collapsed).
//
// It is a pre-filter for duplicate detection only: two texts with the same
// hash are treated as near-duplicate candidates. It must never be relied on
// as a uniqueness or security guarantee, since collisions are possible.
func ContentHash(text string) uint64 {
	h := fnv.New64a()
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		_, _ = h.Write([]byte(tok))
		_, _ = h.Write([]byte{' '})
	}
	return h.Sum64()
}

// TokenOverlap returns the Jaccard overlap of the token sets of two texts,
// between 0.0 (disjoint) and 1.0 (identical sets). Used as a cheap
// near-duplicate measure when no embeddings are available.
func TokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,;:!?\"'()")] = struct{}{}
	}
	delete(set, "")
	return set
}
