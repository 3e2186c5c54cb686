// Package consolidation implements the pipeline that promotes flagged
// short-term memories into deduplicated long-term entries, tracked as jobs
// with explicit states.
package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/embedder"
	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/similarity"
	"github.com/synaptek/memoria/pkg/storage"
)

// Config tunes the pipeline's grouping behavior.
type Config struct {
	// SimilarityThreshold is the minimum embedding similarity for two
	// hash-distinct entries to be merged into one group. Default: 0.9.
	SimilarityThreshold float64

	// OverlapThreshold is the minimum token overlap for the cheap
	// near-duplicate pre-filter. Default: 0.95.
	OverlapThreshold float64

	// BatchLimit bounds how many flagged entries one job may reference.
	// Default: 200.
	BatchLimit int

	// LinkThreshold is the minimum embedding similarity for two long-term
	// memories to be linked by an association edge. Lower than the merge
	// threshold: related entries link, near-duplicates merge. Default: 0.7.
	LinkThreshold float64
}

func (c *Config) applyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.9
	}
	if c.OverlapThreshold == 0 {
		c.OverlapThreshold = 0.95
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 200
	}
	if c.LinkThreshold == 0 {
		c.LinkThreshold = 0.7
	}
}

// Pipeline promotes batches of flagged short-term entries into the
// long-term store.
type Pipeline struct {
	shortTerm    storage.ShortTermStore
	longTerm     storage.LongTermStore
	associations storage.AssociationStore
	jobs         storage.JobStore
	embed        embedder.Provider
	node         *snowflake.Node
	cfg          Config
	now          func() time.Time
	logger       *zap.Logger
}

// NewPipeline creates a consolidation pipeline. The embedding provider
// should be the resilient wrapper so that provider outages degrade to the
// deterministic fallback instead of failing jobs.
func NewPipeline(shortTerm storage.ShortTermStore, longTerm storage.LongTermStore,
	associations storage.AssociationStore, jobs storage.JobStore,
	embed embedder.Provider, node *snowflake.Node, cfg Config, now func() time.Time, logger *zap.Logger) *Pipeline {
	cfg.applyDefaults()
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		shortTerm:    shortTerm,
		longTerm:     longTerm,
		associations: associations,
		jobs:         jobs,
		embed:        embed,
		node:         node,
		cfg:          cfg,
		now:          now,
		logger:       logger,
	}
}

// Consolidate creates and runs a job over the owner's currently flagged
// short-term entries. When nothing is flagged it returns (nil, nil) without
// creating a job.
func (p *Pipeline) Consolidate(ctx context.Context, ownerID string) (*memory.ConsolidationJob, error) {
	job, err := p.StartJob(ctx, ownerID)
	if err != nil || job == nil {
		return nil, err
	}
	return p.RunJob(ctx, job.ID)
}

// StartJob collects the owner's flagged entries into a new pending job.
// Returns nil when there is nothing to consolidate.
func (p *Pipeline) StartJob(ctx context.Context, ownerID string) (*memory.ConsolidationJob, error) {
	if ownerID == "" {
		return nil, memory.NewEngineError("Consolidate", memory.ErrValidation)
	}

	flagged, err := p.shortTerm.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID:     ownerID,
		FlaggedOnly: true,
		Limit:       p.cfg.BatchLimit,
	})
	if err != nil {
		return nil, memory.NewEngineError("Consolidate", err)
	}
	if len(flagged) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(flagged))
	for i, entry := range flagged {
		ids[i] = entry.ID
	}

	job := &memory.ConsolidationJob{
		ID:        p.node.Generate().Int64(),
		OwnerID:   ownerID,
		MemoryIDs: ids,
		Status:    memory.JobPending,
		CreatedAt: p.now().UTC(),
	}
	if err := p.jobs.InsertConsolidationJob(ctx, job); err != nil {
		return nil, memory.NewEngineError("Consolidate", err)
	}
	return job, nil
}

// RunJob executes a pending job: pending -> running -> completed, or failed
// with the error recorded on the job. A failure never propagates to
// unrelated jobs; the returned job carries the terminal state.
func (p *Pipeline) RunJob(ctx context.Context, jobID int64) (*memory.ConsolidationJob, error) {
	job, err := p.jobs.GetConsolidationJob(ctx, jobID)
	if err != nil {
		return nil, memory.NewEngineError("RunConsolidationJob", err)
	}
	if err := p.jobs.MarkJobRunning(ctx, jobID); err != nil {
		return nil, memory.NewEngineError("RunConsolidationJob", err)
	}
	job.Status = memory.JobRunning

	runErr := p.process(ctx, job)

	finished := p.now().UTC()
	job.FinishedAt = &finished
	if runErr != nil {
		job.Status = memory.JobFailed
		job.Error = runErr.Error()
		p.logger.Error("consolidation job failed",
			zap.Int64("job", job.ID),
			zap.String("owner", job.OwnerID),
			zap.Error(runErr))
	} else {
		job.Status = memory.JobCompleted
		p.logger.Info("consolidation job completed",
			zap.Int64("job", job.ID),
			zap.String("owner", job.OwnerID),
			zap.Int("processed", job.Processed),
			zap.Int("consolidated", job.Consolidated))
	}

	if err := p.jobs.FinishJob(ctx, job); err != nil {
		return nil, memory.NewEngineError("RunConsolidationJob", err)
	}
	return job, nil
}

// process runs the grouping and synthesis for one job. Panics are captured
// into the returned error so a poisoned batch lands the job in failed
// instead of taking the caller down.
func (p *Pipeline) process(ctx context.Context, job *memory.ConsolidationJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var entries []*memory.ShortTermMemory
	for _, id := range job.MemoryIDs {
		entry, getErr := p.shortTerm.GetShortTerm(ctx, id)
		if getErr != nil {
			// Entries may have expired between job creation and execution.
			job.Errored++
			continue
		}
		entries = append(entries, entry)
	}
	job.Processed = len(entries)
	if len(entries) == 0 {
		return nil
	}

	var created []*memory.LongTermMemory
	for _, group := range p.group(ctx, entries) {
		promoted, synErr := p.synthesize(ctx, job.OwnerID, group)
		if synErr != nil {
			job.Errored++
			p.logger.Warn("group synthesis failed",
				zap.Int64("job", job.ID), zap.Error(synErr))
			continue
		}
		job.Consolidated++
		created = append(created, promoted)

		ids := make([]int64, len(group))
		for i, entry := range group {
			ids[i] = entry.ID
		}
		if clearErr := p.shortTerm.ClearConsolidationFlags(ctx, ids); clearErr != nil {
			return clearErr
		}
	}

	if linkErr := p.link(ctx, job.OwnerID, created); linkErr != nil {
		// Edges are an enrichment over the promoted entries; a linking
		// failure does not fail the job.
		p.logger.Warn("association linking failed",
			zap.Int64("job", job.ID), zap.Error(linkErr))
	}
	return nil
}

// link connects each newly promoted memory to the owner's similar long-term
// memories with "similar" association edges. The candidate window is the
// owner's most recent entries, so the pairwise comparison stays bounded.
// Re-promoting similar content reinforces existing edges through the upsert.
func (p *Pipeline) link(ctx context.Context, ownerID string, created []*memory.LongTermMemory) error {
	if len(created) == 0 {
		return nil
	}

	recent, err := p.longTerm.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID: ownerID,
		Limit:   p.cfg.BatchLimit,
	})
	if err != nil {
		return err
	}

	fresh := make(map[int64]struct{}, len(created))
	for _, entry := range created {
		fresh[entry.ID] = struct{}{}
	}

	candidates := make([]similarity.Candidate, 0, len(recent))
	for _, entry := range recent {
		if len(entry.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, similarity.Candidate{
			ID:        entry.ID,
			Embedding: entry.Embedding,
		})
	}

	_, edges := similarity.Cluster(candidates, p.cfg.LinkThreshold)
	now := p.now().UTC()
	for _, edge := range edges {
		// Only edges touching this job's promotions; the rest of the
		// window was linked when it was promoted.
		_, fromFresh := fresh[edge.FromID]
		_, toFresh := fresh[edge.ToID]
		if !fromFresh && !toFresh {
			continue
		}
		assoc := &memory.MemoryAssociation{
			ID:               p.node.Generate().Int64(),
			OwnerID:          ownerID,
			FromID:           edge.FromID,
			ToID:             edge.ToID,
			Type:             memory.AssociationSimilar,
			Strength:         edge.Similarity,
			Confidence:       edge.Similarity,
			CreatedAt:        now,
			LastReinforcedAt: now,
			LastDecayedAt:    now,
		}
		if err := p.associations.UpsertAssociation(ctx, assoc); err != nil {
			return err
		}
	}
	return nil
}

// group partitions entries of one owner into near-duplicate groups. Entries
// of different memory types never group together. Within a type, the cheap
// content hash and token overlap act as pre-filters, and embedding
// similarity above the threshold merges the remainder.
func (p *Pipeline) group(ctx context.Context, entries []*memory.ShortTermMemory) [][]*memory.ShortTermMemory {
	byType := make(map[memory.MemoryType][]*memory.ShortTermMemory)
	for _, entry := range entries {
		byType[entry.Type] = append(byType[entry.Type], entry)
	}

	var groups [][]*memory.ShortTermMemory
	for _, typed := range byType {
		groups = append(groups, p.groupTyped(ctx, typed)...)
	}
	return groups
}

func (p *Pipeline) groupTyped(ctx context.Context, entries []*memory.ShortTermMemory) [][]*memory.ShortTermMemory {
	// Hash pre-filter: identical normalized token streams share a bucket.
	// The hash is non-cryptographic; a collision only means two entries
	// get compared by the more expensive measures below.
	bucketOrder := make([]uint64, 0, len(entries))
	buckets := make(map[uint64][]*memory.ShortTermMemory)
	for _, entry := range entries {
		h := similarity.ContentHash(entry.Content)
		if _, seen := buckets[h]; !seen {
			bucketOrder = append(bucketOrder, h)
		}
		buckets[h] = append(buckets[h], entry)
	}
	if len(bucketOrder) == 1 {
		return [][]*memory.ShortTermMemory{buckets[bucketOrder[0]]}
	}

	// One representative per bucket; embeddings come from the resilient
	// provider, so this never fails outright.
	reps := make([]*memory.ShortTermMemory, len(bucketOrder))
	texts := make([]string, len(bucketOrder))
	for i, h := range bucketOrder {
		reps[i] = buckets[h][0]
		texts[i] = buckets[h][0].Content
	}
	vectors, err := p.embed.EmbedBatch(ctx, texts)
	if err != nil {
		vectors = nil
	}

	// Single-linkage merge of buckets via token overlap or embedding
	// similarity.
	parent := make([]int, len(bucketOrder))
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

	for i := 0; i < len(reps); i++ {
		for j := i + 1; j < len(reps); j++ {
			near := similarity.TokenOverlap(reps[i].Content, reps[j].Content) >= p.cfg.OverlapThreshold
			if !near && vectors != nil {
				near = similarity.CosineSimilarity(vectors[i], vectors[j]) >= p.cfg.SimilarityThreshold
			}
			if near {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	merged := make(map[int][]*memory.ShortTermMemory)
	order := make([]int, 0, len(bucketOrder))
	for i, h := range bucketOrder {
		root := find(i)
		if _, seen := merged[root]; !seen {
			order = append(order, root)
		}
		merged[root] = append(merged[root], buckets[h]...)
	}

	groups := make([][]*memory.ShortTermMemory, 0, len(order))
	for _, root := range order {
		groups = append(groups, merged[root])
	}
	return groups
}

// synthesize builds and stores one long-term memory from a group.
//
// Content is the deduplicated union of distinct sentences across the group,
// importance is the maximum across members, and initial strength derives
// from aggregate confidence and group size.
func (p *Pipeline) synthesize(ctx context.Context, ownerID string, group []*memory.ShortTermMemory) (*memory.LongTermMemory, error) {
	if len(group) == 0 {
		return nil, nil
	}

	contents := make([]string, len(group))
	importance := group[0].Importance
	var refs memory.ContextRefs
	var confidenceSum float64
	for i, entry := range group {
		contents[i] = entry.Content
		importance = memory.MaxImportance(importance, entry.Importance)
		confidenceSum += entry.Confidence
		mergeRefs(&refs, entry.Context)
	}
	content := mergeSentences(contents)

	avgConfidence := confidenceSum / float64(len(group))
	strength := avgConfidence * (1 + 0.1*float64(len(group)-1))
	if strength > 1 {
		strength = 1
	}

	vector, err := p.embed.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	entry := &memory.LongTermMemory{
		ID:         p.node.Generate().Int64(),
		OwnerID:    ownerID,
		Type:       group[0].Type,
		Content:    content,
		Summary:    summarize(content),
		Keywords:   keywords(content, 8),
		Context:    refs,
		Embedding:  vector,
		Importance: importance,
		Strength:   strength,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.longTerm.InsertLongTerm(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// mergeRefs fills empty fields of dst from src, first reference wins.
func mergeRefs(dst *memory.ContextRefs, src memory.ContextRefs) {
	if dst.ConversationID == "" {
		dst.ConversationID = src.ConversationID
	}
	if dst.TaskID == "" {
		dst.TaskID = src.TaskID
	}
	if dst.ContractID == "" {
		dst.ContractID = src.ContractID
	}
	if dst.VendorID == "" {
		dst.VendorID = src.VendorID
	}
	if dst.AgentID == "" {
		dst.AgentID = src.AgentID
	}
}

// mergeSentences joins the distinct sentences of the inputs, preserving
// first-seen order. Sentences are compared case-insensitively.
func mergeSentences(contents []string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, content := range contents {
		for _, sentence := range splitSentences(content) {
			key := strings.ToLower(sentence)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, sentence)
		}
	}
	return strings.Join(out, ". ")
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var sentences []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// summarize returns the first sentence as a cheap extractive summary.
func summarize(content string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}
	return sentences[0]
}

// keywords returns up to max distinct lowercase tokens longer than three
// characters, in order of appearance. A frequency model is overkill for the
// short contents consolidation sees.
func keywords(content string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) <= 3 {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == max {
			break
		}
	}
	return out
}
