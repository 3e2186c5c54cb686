package similarity

// Candidate is one item in a bounded clustering window.
type Candidate struct {
	// ID identifies the underlying long-term memory.
	ID int64

	// Embedding is the candidate's vector. Candidates without an embedding
	// never cluster with anything.
	Embedding []float64
}

// Edge is a pairwise link produced by clustering. FromID < ToID is not
// guaranteed; callers that need a canonical direction must order the pair.
type Edge struct {
	FromID     int64
	ToID       int64
	Similarity float64
}

// Cluster groups candidates whose pairwise cosine similarity is at or above
// threshold, and returns one Edge per pair inside every multi-member
// cluster, carrying that pair's similarity.
//
// Grouping is transitive (single-linkage): if A~B and B~C, then A, B, and C
// share a cluster even when A and C fall below the threshold. The candidate
// set must be bounded by the caller; pass a pre-filtered window such as one
// owner's recent memories, never a whole corpus.
func Cluster(candidates []Candidate, threshold float64) (clusters [][]int64, edges []Edge) {
	n := len(candidates)
	if n < 2 {
		return nil, nil
	}

	// Union-find over candidate indexes.
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	sims := make(map[[2]int]float64, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := CosineSimilarity(candidates[i].Embedding, candidates[j].Embedding)
			sims[[2]int{i, j}] = sim
			if sim >= threshold {
				union(i, j)
			}
		}
	}

	members := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		members[root] = append(members[root], i)
	}

	for _, idxs := range members {
		if len(idxs) < 2 {
			continue
		}

		ids := make([]int64, len(idxs))
		for k, idx := range idxs {
			ids[k] = candidates[idx].ID
		}
		clusters = append(clusters, ids)

		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				i, j := idxs[a], idxs[b]
				if j < i {
					i, j = j, i
				}
				edges = append(edges, Edge{
					FromID:     candidates[i].ID,
					ToID:       candidates[j].ID,
					Similarity: sims[[2]int{i, j}],
				})
			}
		}
	}

	return clusters, edges
}
