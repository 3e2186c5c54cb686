package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/consolidation"
	"github.com/synaptek/memoria/pkg/embedder"
	"github.com/synaptek/memoria/pkg/embedder/deterministic"
	"github.com/synaptek/memoria/pkg/embedder/openai"
	"github.com/synaptek/memoria/pkg/embedder/qwen"
	"github.com/synaptek/memoria/pkg/maintenance"
	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/sharing"
	"github.com/synaptek/memoria/pkg/shortterm"
	"github.com/synaptek/memoria/pkg/similarity"
	"github.com/synaptek/memoria/pkg/storage"
	"github.com/synaptek/memoria/pkg/storage/postgres"
	"github.com/synaptek/memoria/pkg/storage/sqlite"
)

// searchCandidateWindow bounds how many of an owner's newest long-term
// memories a similarity search scores. Search cost stays flat as the store
// grows; older entries fall out of the window as they decay anyway.
const searchCandidateWindow = 200

// ScoredMemory is one similarity search result.
type ScoredMemory struct {
	Memory *memory.LongTermMemory `json:"memory"`
	Score  float64                `json:"score"`
}

// Client is the associative memory engine. It owns the storage backend and
// exposes every engine operation: short-term writes, consolidation into
// long-term knowledge, semantic search, association lookups, maintenance
// sweeps, and cross-agent sharing.
type Client struct {
	cfg    *Config
	store  storage.Store
	embed  embedder.Provider
	node   *snowflake.Node
	logger *zap.Logger

	shortTerm    *shortterm.Store
	consolidator *consolidation.Pipeline
	maintainer   *maintenance.Engine
	sharing      *sharing.Service
}

// NewClient creates an engine client from the configuration. The zero-value
// sections of cfg fall back to component defaults; a missing embedder
// provider falls back to deterministic pseudo-embeddings.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = LoadConfigFromEnv()
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, memory.NewEngineError("NewClient", err)
	}

	nodeID := cfg.NodeID
	if nodeID == 0 {
		nodeID = 1
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, memory.NewEngineError("NewClient", err)
	}

	store, err := newStore(&cfg.Storage)
	if err != nil {
		return nil, memory.NewEngineError("NewClient", err)
	}

	embed, err := newEmbedder(&cfg.Embedder, logger)
	if err != nil {
		_ = store.Close()
		return nil, memory.NewEngineError("NewClient", err)
	}

	profiles, err := newProfiles(cfg.ProfilesPath)
	if err != nil {
		_ = store.Close()
		return nil, memory.NewEngineError("NewClient", err)
	}

	c := &Client{
		cfg:    cfg,
		store:  store,
		embed:  embed,
		node:   node,
		logger: logger,
	}
	c.shortTerm = shortterm.NewStore(store, store, node, nil, logger)
	c.consolidator = consolidation.NewPipeline(store, store, store, store, embed, node,
		consolidation.Config{
			SimilarityThreshold: cfg.Engine.SimilarityThreshold,
			OverlapThreshold:    cfg.Engine.OverlapThreshold,
		}, nil, logger)
	c.maintainer = maintenance.NewEngine(store, store, store, store,
		maintenance.Config{
			AssociationDecayRate: cfg.Engine.AssociationDecayRate,
			LongTermDecayRate:    cfg.Engine.LongTermDecayRate,
			StrengthFloor:        cfg.Engine.StrengthFloor,
			SessionRetention:     cfg.Engine.SessionRetention,
			Interval:             cfg.Engine.SweepInterval,
		}, nil, logger)
	c.sharing = sharing.NewService(store, store, store, profiles, node, nil, logger)

	return c, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newStore(cfg *StorageConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "./memoria.db"
		}
		return sqlite.NewClient(&sqlite.Config{DBPath: path})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:     cfg.PGHost,
			Port:     cfg.PGPort,
			User:     cfg.PGUser,
			Password: cfg.PGPassword,
			DBName:   cfg.PGDBName,
			SSLMode:  cfg.PGSSLMode,
		})
	}
	return nil, fmt.Errorf("%w: unknown storage provider %q", memory.ErrValidation, cfg.Provider)
}

func newEmbedder(cfg *EmbedderConfig, logger *zap.Logger) (embedder.Provider, error) {
	var base embedder.Provider
	switch cfg.Provider {
	case "openai":
		client, err := openai.NewClient(&openai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		base = client
	case "qwen":
		client, err := qwen.NewClient(&qwen.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		base = client
	case "", "deterministic":
		base = deterministic.NewClient(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", memory.ErrValidation, cfg.Provider)
	}
	return embedder.NewResilient(base, embedder.ResilientConfig{}, logger), nil
}

func newProfiles(path string) (*sharing.ProfileTable, error) {
	if path == "" {
		return sharing.DefaultProfileTable(), nil
	}
	return sharing.LoadProfileTable(path)
}

// Close releases the storage backend and the embedding provider.
func (c *Client) Close() error {
	if err := c.embed.Close(); err != nil {
		c.logger.Warn("embedder close failed", zap.Error(err))
	}
	return c.store.Close()
}

func (c *Client) nowUTC() time.Time {
	return time.Now().UTC()
}

// ---- short-term operations ----

// WriteShortTermMemory stores a session-scoped observation. Repeated writes
// of the same content merge into the existing record.
func (c *Client) WriteShortTermMemory(ctx context.Context, ownerID, sessionID string, memType memory.MemoryType, content string, opts ...WriteOption) (*shortterm.WriteResult, error) {
	options := applyWriteOptions(opts)
	return c.shortTerm.Write(ctx, &shortterm.WriteRequest{
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Type:       memType,
		Content:    content,
		Payload:    options.Payload,
		Context:    options.Context,
		Importance: options.Importance,
		Confidence: options.Confidence,
		Source:     options.Source,
	})
}

// GetShortTermMemories returns an owner's recent short-term entries, most
// recent first. An empty sessionID spans every active session.
func (c *Client) GetShortTermMemories(ctx context.Context, ownerID, sessionID string, limit int) ([]*memory.ShortTermMemory, error) {
	return c.shortTerm.List(ctx, ownerID, sessionID, limit)
}

// CleanupExpired removes every short-term entry past its expiry. Idempotent.
func (c *Client) CleanupExpired(ctx context.Context) (int, error) {
	return c.shortTerm.CleanupExpired(ctx)
}

// ---- consolidation ----

// Consolidate promotes the owner's flagged short-term entries into the
// long-term store under a tracked job. Returns (nil, nil) when nothing is
// flagged.
func (c *Client) Consolidate(ctx context.Context, ownerID string) (*memory.ConsolidationJob, error) {
	return c.consolidator.Consolidate(ctx, ownerID)
}

// GetConsolidationJob retrieves a job's current state and counters.
func (c *Client) GetConsolidationJob(ctx context.Context, id int64) (*memory.ConsolidationJob, error) {
	return c.store.GetConsolidationJob(ctx, id)
}

// ---- retrieval ----

// SemanticSearch ranks the owner's long-term memories by embedding
// similarity to the query. Candidates missing an embedding are embedded
// lazily and the vector persisted. Returned memories get their access
// count bumped, best effort.
func (c *Client) SemanticSearch(ctx context.Context, ownerID, query string, limit int) ([]*ScoredMemory, error) {
	op := "SemanticSearch"
	if ownerID == "" || query == "" {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: owner id and query are required", memory.ErrValidation))
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := c.embed.Embed(ctx, query)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	candidates, err := c.store.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID: ownerID,
		Limit:   searchCandidateWindow,
	})
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if err := c.ensureEmbeddings(ctx, candidates); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	scored := make([]*ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		score := similarity.CosineSimilarity(queryVec, m.Embedding)
		if score <= 0 {
			continue
		}
		scored = append(scored, &ScoredMemory{Memory: m, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if len(scored) > 0 {
		ids := make([]int64, len(scored))
		for i, s := range scored {
			ids[i] = s.Memory.ID
		}
		if err := c.store.BumpLongTermAccess(ctx, ids, c.nowUTC()); err != nil {
			c.logger.Warn("access bump failed", zap.Error(err))
		}
	}
	return scored, nil
}

// FindSimilar returns the memories most related to one memory: its
// association neighbors first, scored by edge strength, then embedding
// neighbors filling the remainder.
func (c *Client) FindSimilar(ctx context.Context, memoryID int64, limit int) ([]*ScoredMemory, error) {
	op := "FindSimilar"
	if limit <= 0 {
		limit = 10
	}

	anchor, err := c.store.GetLongTerm(ctx, memoryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	assocs, err := c.store.ListAssociationsFor(ctx, memoryID, limit)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	seen := map[int64]bool{memoryID: true}
	var results []*ScoredMemory
	for _, assoc := range assocs {
		otherID := assoc.ToID
		if otherID == memoryID {
			otherID = assoc.FromID
		}
		if seen[otherID] {
			continue
		}
		other, err := c.store.GetLongTerm(ctx, otherID)
		if err != nil {
			continue
		}
		seen[otherID] = true
		results = append(results, &ScoredMemory{Memory: other, Score: assoc.Strength})
	}
	if len(results) >= limit {
		return results[:limit], nil
	}

	if err := c.ensureEmbeddings(ctx, []*memory.LongTermMemory{anchor}); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	candidates, err := c.store.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID: anchor.OwnerID,
		Limit:   searchCandidateWindow,
	})
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if err := c.ensureEmbeddings(ctx, candidates); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	var fill []*ScoredMemory
	for _, m := range candidates {
		if seen[m.ID] {
			continue
		}
		score := similarity.CosineSimilarity(anchor.Embedding, m.Embedding)
		if score <= 0 {
			continue
		}
		fill = append(fill, &ScoredMemory{Memory: m, Score: score})
	}
	sort.SliceStable(fill, func(i, j int) bool { return fill[i].Score > fill[j].Score })
	for _, s := range fill {
		if len(results) >= limit {
			break
		}
		results = append(results, s)
	}
	return results, nil
}

// ensureEmbeddings lazily embeds entries whose vector is missing and
// persists the result.
func (c *Client) ensureEmbeddings(ctx context.Context, entries []*memory.LongTermMemory) error {
	var missing []*memory.LongTermMemory
	var texts []string
	for _, m := range entries {
		if len(m.Embedding) == 0 {
			missing = append(missing, m)
			texts = append(texts, m.Content)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	vectors, err := c.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, m := range missing {
		m.Embedding = vectors[i]
		if err := c.store.UpdateLongTermEmbedding(ctx, m.ID, vectors[i]); err != nil {
			c.logger.Warn("embedding persist failed",
				zap.Int64("memory_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// ---- maintenance ----

// DecaySweep ages every owner's associations and long-term strengths,
// removing dead edges and flagging weak memories.
func (c *Client) DecaySweep(ctx context.Context) (*maintenance.SweepResult, error) {
	return c.maintainer.DecaySweep(ctx)
}

// RunMaintenance executes one full maintenance cycle: expired cleanup,
// decay sweep, idle-session archival.
func (c *Client) RunMaintenance(ctx context.Context) *maintenance.SweepResult {
	return c.maintainer.Cycle(ctx)
}

// StartMaintenance runs maintenance cycles on the configured interval until
// ctx is cancelled.
func (c *Client) StartMaintenance(ctx context.Context) {
	go c.maintainer.Run(ctx)
}

// ArchiveIdleSessions archives sessions idle past the retention window.
func (c *Client) ArchiveIdleSessions(ctx context.Context) (int, error) {
	return c.maintainer.ArchiveIdleSessions(ctx)
}

// RemoveWeak bulk-removes an owner's weak-flagged long-term memories. This
// is the only path that deletes long-term entries for strength reasons.
func (c *Client) RemoveWeak(ctx context.Context, ownerID string) (int, error) {
	return c.maintainer.RemoveWeak(ctx, ownerID)
}

// ---- sharing ----

// ShareMemory offers one memory to one recipient agent type.
func (c *Client) ShareMemory(ctx context.Context, memoryID int64, fromAgent, toAgent string, level memory.AccessLevel, reason string) (*sharing.ShareResult, error) {
	return c.sharing.ShareMemory(ctx, memoryID, fromAgent, toAgent, level, reason)
}

// BroadcastMemory shares a critical or high importance memory with every
// agent the policy selects.
func (c *Client) BroadcastMemory(ctx context.Context, memoryID int64, fromAgent string, policy sharing.BroadcastPolicy) (*sharing.BroadcastResult, error) {
	return c.sharing.BroadcastMemory(ctx, memoryID, fromAgent, policy)
}

// RequestAccess files an access request, auto-approving low-stakes ones.
func (c *Client) RequestAccess(ctx context.Context, memoryID int64, requestingAgent, ownerAgent string, level memory.AccessLevel, reason string) (*memory.AccessRequest, error) {
	return c.sharing.RequestAccess(ctx, memoryID, requestingAgent, ownerAgent, level, reason)
}

// ProcessAccessRequest decides a pending access request.
func (c *Client) ProcessAccessRequest(ctx context.Context, requestID int64, approve bool, decidedBy, note string) (*memory.AccessRequest, error) {
	return c.sharing.ProcessAccessRequest(ctx, requestID, approve, decidedBy, note)
}

// GetSharedMemories returns the memories shared with an agent, projected at
// their granted access levels.
func (c *Client) GetSharedMemories(ctx context.Context, agentType string, limit int) ([]*sharing.SharedView, error) {
	return c.sharing.GetSharedMemories(ctx, agentType, limit)
}

// SyncAgentKnowledge runs a bidirectional knowledge exchange between two
// agent types.
func (c *Client) SyncAgentKnowledge(ctx context.Context, agentA, agentB, syncType string, criteria *sharing.SyncCriteria) (*memory.SyncSession, error) {
	return c.sharing.SyncAgentKnowledge(ctx, agentA, agentB, syncType, criteria)
}

// CreatePool creates a named memory pool.
func (c *Client) CreatePool(ctx context.Context, name string, participants []string, allowedTypes []memory.MemoryType, policy memory.PoolPolicy, curator string) (*memory.MemoryPool, error) {
	return c.sharing.CreatePool(ctx, name, participants, allowedTypes, policy, curator)
}

// AddToPool contributes a memory to a pool.
func (c *Client) AddToPool(ctx context.Context, poolID, memoryID int64, contributor string) (*memory.MemoryPoolEntry, error) {
	return c.sharing.AddToPool(ctx, poolID, memoryID, contributor)
}

// DecidePoolEntry approves or rejects a pending pool contribution.
func (c *Client) DecidePoolEntry(ctx context.Context, entryID int64, approver string, approve bool) (*memory.MemoryPoolEntry, error) {
	return c.sharing.DecidePoolEntry(ctx, entryID, approver, approve)
}

// GetPoolMemories returns a pool's active contributions to a participant.
func (c *Client) GetPoolMemories(ctx context.Context, poolID int64, requester string) ([]*sharing.SharedView, error) {
	return c.sharing.GetPoolMemories(ctx, poolID, requester)
}
