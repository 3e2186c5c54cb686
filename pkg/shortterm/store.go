// Package shortterm implements the session-scoped short-term memory store:
// merge-on-write deduplication, importance-derived expiry, and expired-entry
// cleanup.
package shortterm

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/storage"
)

// WriteRequest carries the producer-supplied fields of a short-term write.
type WriteRequest struct {
	OwnerID   string
	SessionID string
	Type      memory.MemoryType
	Content   string

	Payload    map[string]interface{}
	Context    memory.ContextRefs
	Importance memory.Importance
	Confidence float64
	Source     string
}

// WriteResult reports what a write did.
type WriteResult struct {
	// ID is the id of the stored record (existing on merge, new otherwise).
	ID int64

	// Merged is true when the write merged into an existing record instead
	// of inserting.
	Merged bool

	// ExpiresAt is the record's expiry as derived from its importance.
	ExpiresAt time.Time
}

// Store is the short-term memory service. It owns the merge-write semantics
// and expiry computation; persistence is delegated to the injected record
// store.
type Store struct {
	records  storage.ShortTermStore
	sessions storage.SessionStore
	node     *snowflake.Node
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore creates a short-term store service. The clock defaults to
// time.Now and the logger to a no-op logger when nil.
func NewStore(records storage.ShortTermStore, sessions storage.SessionStore, node *snowflake.Node, now func() time.Time, logger *zap.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{records: records, sessions: sessions, node: node, now: now, logger: logger}
}

// Write stores a short-term observation.
//
// If a record with the same (owner, session, type, content) already exists,
// the write merges: access count is incremented, last-accessed time bumped,
// confidence raised to the max of old and new, and importance replaced by
// the incoming value (which also recomputes the consolidation flag). The
// existing id is returned. Otherwise a new record is inserted with an
// expiry of createdAt + TTL(importance).
func (s *Store) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	if err := validate(req); err != nil {
		return nil, memory.NewEngineError("WriteShortTermMemory", err)
	}

	now := s.now().UTC()
	entry := &memory.ShortTermMemory{
		ID:                s.node.Generate().Int64(),
		OwnerID:           req.OwnerID,
		SessionID:         req.SessionID,
		Type:              req.Type,
		Content:           req.Content,
		Payload:           req.Payload,
		Context:           req.Context,
		Importance:        req.Importance,
		Confidence:        clamp01(req.Confidence),
		AccessCount:       1,
		LastAccessedAt:    now,
		CreatedAt:         now,
		ExpiresAt:         now.Add(req.Importance.TTL()),
		ShouldConsolidate: req.Importance.ShouldConsolidate(),
		Source:            req.Source,
	}

	id, merged, err := s.records.UpsertShortTerm(ctx, entry)
	if err != nil {
		return nil, memory.NewEngineError("WriteShortTermMemory", err)
	}

	// Session activity feeds idle-session archival. Best effort: a failed
	// touch must not fail the write.
	if err := s.sessions.TouchSession(ctx, req.OwnerID, req.SessionID, now); err != nil {
		s.logger.Warn("session touch failed",
			zap.String("owner", req.OwnerID),
			zap.String("session", req.SessionID),
			zap.Error(err))
	}

	return &WriteResult{ID: id, Merged: merged, ExpiresAt: entry.ExpiresAt}, nil
}

// Get retrieves one entry and bumps its access count, best effort.
func (s *Store) Get(ctx context.Context, id int64) (*memory.ShortTermMemory, error) {
	entry, err := s.records.GetShortTerm(ctx, id)
	if err != nil {
		return nil, memory.NewEngineError("GetShortTermMemory", err)
	}
	if err := s.records.BumpShortTermAccess(ctx, []int64{id}, s.now().UTC()); err != nil {
		s.logger.Warn("access bump failed", zap.Int64("id", id), zap.Error(err))
	}
	return entry, nil
}

// List retrieves entries for an owner (optionally one session), newest
// first, excluding entries in archived sessions.
func (s *Store) List(ctx context.Context, ownerID, sessionID string, limit int) ([]*memory.ShortTermMemory, error) {
	entries, err := s.records.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID:            ownerID,
		SessionID:          sessionID,
		ActiveSessionsOnly: true,
		Limit:              limit,
	})
	if err != nil {
		return nil, memory.NewEngineError("ListShortTermMemory", err)
	}
	return entries, nil
}

// Flagged returns the owner's entries marked for consolidation.
func (s *Store) Flagged(ctx context.Context, ownerID string, limit int) ([]*memory.ShortTermMemory, error) {
	entries, err := s.records.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID:     ownerID,
		FlaggedOnly: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, memory.NewEngineError("ListFlaggedShortTermMemory", err)
	}
	return entries, nil
}

// CleanupExpired deletes every record whose expiry has passed. Safe to run
// repeatedly: a second run over the same instant deletes nothing.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.records.DeleteExpiredShortTerm(ctx, s.now().UTC())
	if err != nil {
		return 0, memory.NewEngineError("CleanupExpired", err)
	}
	if n > 0 {
		s.logger.Info("expired short-term memories removed", zap.Int("count", n))
	}
	return n, nil
}

func validate(req *WriteRequest) error {
	switch {
	case req == nil,
		req.OwnerID == "",
		req.SessionID == "",
		strings.TrimSpace(req.Content) == "":
		return memory.ErrValidation
	}
	if !memory.ValidMemoryType(req.Type) {
		return memory.ErrValidation
	}
	if req.Importance.Rank() == 0 {
		return memory.ErrValidation
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return memory.ErrValidation
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
