// Package storage defines the record-store interfaces the memory engine is
// built against.
//
// Each logical store (short-term, long-term, associations, sharing, jobs,
// sessions) has its own interface; Store aggregates them for backends that
// implement everything over one database. Components receive the interface
// they need, which keeps them testable without a live backing store.
package storage

import (
	"context"
	"time"

	"github.com/synaptek/memoria/pkg/memory"
)

// ShortTermQuery filters ListShortTerm results. Zero values mean "no
// filter". Limit of 0 applies the backend default page size.
type ShortTermQuery struct {
	OwnerID   string
	SessionID string
	Type      memory.MemoryType

	// FlaggedOnly restricts results to entries marked for consolidation.
	FlaggedOnly bool

	// ActiveSessionsOnly excludes entries whose session has been archived.
	ActiveSessionsOnly bool

	Limit  int
	Offset int
}

// ShortTermStore persists session-scoped short-term memories.
type ShortTermStore interface {
	// UpsertShortTerm applies the merge-write semantics atomically: if a
	// record with the same (owner, session, type, content) exists, its
	// access count is incremented, last-accessed time bumped, confidence
	// raised to the max of old and new, and importance (plus the derived
	// expiry and consolidation flag) replaced by the incoming values.
	// Otherwise the entry is inserted as given.
	//
	// Returns the stored record's id and whether an existing record was
	// merged into.
	UpsertShortTerm(ctx context.Context, entry *memory.ShortTermMemory) (id int64, merged bool, err error)

	// GetShortTerm retrieves one short-term memory by id.
	GetShortTerm(ctx context.Context, id int64) (*memory.ShortTermMemory, error)

	// ListShortTerm retrieves short-term memories matching the query,
	// newest first.
	ListShortTerm(ctx context.Context, q *ShortTermQuery) ([]*memory.ShortTermMemory, error)

	// BumpShortTermAccess increments the access count and last-accessed
	// time of the given entries. Best effort: missing ids are ignored.
	BumpShortTermAccess(ctx context.Context, ids []int64, now time.Time) error

	// ClearConsolidationFlags unmarks the given entries after a
	// consolidation job has processed them.
	ClearConsolidationFlags(ctx context.Context, ids []int64) error

	// DeleteExpiredShortTerm deletes every record whose expiry has passed.
	// Idempotent; returns the number of deleted records.
	DeleteExpiredShortTerm(ctx context.Context, now time.Time) (int, error)

	// DeleteShortTerm deletes the given records by id.
	DeleteShortTerm(ctx context.Context, ids []int64) error

	// ListShortTermOwners pages over the distinct owners present in the
	// short-term store, for bounded per-owner sweeps.
	ListShortTermOwners(ctx context.Context, limit, offset int) ([]string, error)
}

// LongTermQuery filters ListLongTerm results.
type LongTermQuery struct {
	OwnerID string
	Type    memory.MemoryType
	Types   []memory.MemoryType

	// CreatedAfter restricts results to entries created after the given
	// time (used by differential sync).
	CreatedAfter time.Time

	// WeakOnly restricts results to entries flagged weak by decay.
	WeakOnly bool

	// MissingEmbedding restricts results to entries not yet embedded.
	MissingEmbedding bool

	Limit  int
	Offset int
}

// LongTermStore persists durable long-term memories.
type LongTermStore interface {
	InsertLongTerm(ctx context.Context, entry *memory.LongTermMemory) error
	GetLongTerm(ctx context.Context, id int64) (*memory.LongTermMemory, error)
	ListLongTerm(ctx context.Context, q *LongTermQuery) ([]*memory.LongTermMemory, error)

	// UpdateLongTermEmbedding stores a lazily computed embedding.
	UpdateLongTermEmbedding(ctx context.Context, id int64, embedding []float64) error

	// UpdateLongTermStrength writes a decayed strength and weak flag.
	UpdateLongTermStrength(ctx context.Context, id int64, strength float64, weak bool) error

	// BumpLongTermAccess increments access counts. Best effort.
	BumpLongTermAccess(ctx context.Context, ids []int64, now time.Time) error

	// DeleteWeakLongTerm bulk-removes the owner's weak-flagged entries.
	// This is the only way long-term memories are deleted for strength
	// reasons; decay alone never deletes. Returns the number removed.
	DeleteWeakLongTerm(ctx context.Context, ownerID string) (int, error)

	// ListLongTermOwners pages over the distinct owners present in the
	// long-term store.
	ListLongTermOwners(ctx context.Context, limit, offset int) ([]string, error)
}

// AssociationStore persists the weighted association graph.
type AssociationStore interface {
	// UpsertAssociation creates the edge, or reinforces it when an edge
	// already links the pair in either direction: strength becomes the max
	// of old and new, and the last-reinforced time is reset.
	UpsertAssociation(ctx context.Context, assoc *memory.MemoryAssociation) error

	// ListAssociationsFor returns the edges touching the given memory,
	// strongest first.
	ListAssociationsFor(ctx context.Context, memoryID int64, limit int) ([]*memory.MemoryAssociation, error)

	// ListAssociations pages over one owner's edges for decay sweeps.
	ListAssociations(ctx context.Context, ownerID string, limit, offset int) ([]*memory.MemoryAssociation, error)

	// UpdateAssociationDecay writes a decayed strength and advances the
	// decay watermark.
	UpdateAssociationDecay(ctx context.Context, id int64, strength float64, decayedAt time.Time) error

	DeleteAssociation(ctx context.Context, id int64) error

	// DeleteOrphanAssociations removes edges with a missing endpoint for
	// the given owner. Returns the number removed.
	DeleteOrphanAssociations(ctx context.Context, ownerID string) (int, error)
}

// SharingQuery filters ListSharing results.
type SharingQuery struct {
	ToAgentType string
	MemoryID    int64
	ActiveOnly  bool
	Limit       int
}

// SharingStore persists sharing records, access requests, and memory pools.
type SharingStore interface {
	InsertSharing(ctx context.Context, rec *memory.SharingRecord) error
	ListSharing(ctx context.Context, q *SharingQuery) ([]*memory.SharingRecord, error)

	InsertAccessRequest(ctx context.Context, req *memory.AccessRequest) error
	GetAccessRequest(ctx context.Context, id int64) (*memory.AccessRequest, error)

	// DecideAccessRequest transitions a pending request to approved or
	// denied. The transition is guarded: if the request is not pending the
	// call fails with memory.ErrInvalidState, so two racing decisions
	// cannot both apply.
	DecideAccessRequest(ctx context.Context, id int64, status memory.RequestStatus, decidedBy, note string, now time.Time) error

	InsertPool(ctx context.Context, pool *memory.MemoryPool) error
	GetPool(ctx context.Context, id int64) (*memory.MemoryPool, error)

	// AddPoolContribution increments the pool's per-agent contribution
	// counter.
	AddPoolContribution(ctx context.Context, poolID int64, contributor string) error

	InsertPoolEntry(ctx context.Context, entry *memory.MemoryPoolEntry) error
	GetPoolEntry(ctx context.Context, id int64) (*memory.MemoryPoolEntry, error)

	// DecidePoolEntry transitions a pending pool entry to active or
	// rejected, guarded like DecideAccessRequest.
	DecidePoolEntry(ctx context.Context, id int64, status memory.PoolEntryStatus) error

	// ListPoolEntries returns a pool's entries, optionally filtered by
	// status.
	ListPoolEntries(ctx context.Context, poolID int64, status memory.PoolEntryStatus) ([]*memory.MemoryPoolEntry, error)
}

// JobStore persists consolidation jobs and sync sessions.
type JobStore interface {
	InsertConsolidationJob(ctx context.Context, job *memory.ConsolidationJob) error
	GetConsolidationJob(ctx context.Context, id int64) (*memory.ConsolidationJob, error)

	// MarkJobRunning transitions pending -> running, guarded; a job that is
	// not pending fails with memory.ErrInvalidState.
	MarkJobRunning(ctx context.Context, id int64) error

	// FinishJob records the terminal state and counters of a job.
	FinishJob(ctx context.Context, job *memory.ConsolidationJob) error

	InsertSyncSession(ctx context.Context, sess *memory.SyncSession) error
	GetSyncSession(ctx context.Context, id int64) (*memory.SyncSession, error)

	// MarkSyncInProgress transitions pending -> in_progress, guarded.
	MarkSyncInProgress(ctx context.Context, id int64) error

	// FinishSyncSession records the terminal state and counters.
	FinishSyncSession(ctx context.Context, sess *memory.SyncSession) error
}

// SessionStore tracks short-term session activity for idle archival.
type SessionStore interface {
	// TouchSession upserts the session record with the given activity
	// time. Archived sessions are terminal: touching one does not
	// reactivate it.
	TouchSession(ctx context.Context, ownerID, sessionID string, now time.Time) error

	// ListIdleSessions returns active sessions untouched since the cutoff.
	ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*memory.SessionRecord, error)

	// ArchiveSession transitions a session to the terminal archived state.
	// Archiving an already archived session is a no-op.
	ArchiveSession(ctx context.Context, ownerID, sessionID string) error
}

// Store aggregates every record store over a single backend.
type Store interface {
	ShortTermStore
	LongTermStore
	AssociationStore
	SharingStore
	JobStore
	SessionStore

	// Close closes the backend and releases resources.
	Close() error
}
