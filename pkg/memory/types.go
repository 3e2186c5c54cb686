// Package memory defines the record types, enumerations, and error taxonomy
// shared by every component of the associative memory engine.
//
// The engine distinguishes two stores:
//   - Short-term memories: session-scoped observations that expire quickly
//     and may be promoted ("consolidated") into long-term knowledge.
//   - Long-term memories: durable entries whose strength decays over time
//     and which are linked together by weighted associations.
package memory

import "time"

// MemoryType classifies what kind of knowledge a memory carries.
//
// Types also drive the cross-agent sharing policy: an agent profile lists
// which types the agent needs and which it provides.
type MemoryType string

const (
	// TypePreference captures a user's stated or inferred preference.
	TypePreference MemoryType = "preference"

	// TypeInteractionPattern captures a recurring interaction behavior.
	TypeInteractionPattern MemoryType = "interaction_pattern"

	// TypeDomainKnowledge captures durable facts about the business domain.
	TypeDomainKnowledge MemoryType = "domain_knowledge"

	// TypeConversationContext captures context local to a conversation.
	TypeConversationContext MemoryType = "conversation_context"

	// TypeTaskHistory captures what happened while executing a task.
	TypeTaskHistory MemoryType = "task_history"

	// TypeFeedback captures explicit user feedback.
	TypeFeedback MemoryType = "feedback"

	// TypeEntityRelation captures a relation between domain entities.
	TypeEntityRelation MemoryType = "entity_relation"

	// TypeProcessKnowledge captures how a multi-step process is performed.
	TypeProcessKnowledge MemoryType = "process_knowledge"
)

// ValidMemoryType reports whether t is one of the defined memory types.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypePreference, TypeInteractionPattern, TypeDomainKnowledge,
		TypeConversationContext, TypeTaskHistory, TypeFeedback,
		TypeEntityRelation, TypeProcessKnowledge:
		return true
	}
	return false
}

// Importance ranks how important a memory is. The tier determines the
// short-term expiry window and gates consolidation and broadcasting.
type Importance string

const (
	ImportanceCritical  Importance = "critical"
	ImportanceHigh      Importance = "high"
	ImportanceMedium    Importance = "medium"
	ImportanceLow       Importance = "low"
	ImportanceTemporary Importance = "temporary"
)

// importanceTTL maps each importance tier to its short-term retention window.
// Critical entries get a one-year window, which makes them effectively
// non-expiring relative to every other tier. The ordering
// critical > high > medium > low > temporary is strict and relied upon by
// expiry tests.
var importanceTTL = map[Importance]time.Duration{
	ImportanceCritical:  365 * 24 * time.Hour,
	ImportanceHigh:      7 * 24 * time.Hour,
	ImportanceMedium:    24 * time.Hour,
	ImportanceLow:       4 * time.Hour,
	ImportanceTemporary: 30 * time.Minute,
}

// TTL returns the short-term retention window for the importance tier.
// Unknown tiers fall back to the temporary window.
func (i Importance) TTL() time.Duration {
	if ttl, ok := importanceTTL[i]; ok {
		return ttl
	}
	return importanceTTL[ImportanceTemporary]
}

// Rank returns the numeric rank of the tier, higher meaning more important.
// Used to take the maximum importance across a consolidation group.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 5
	case ImportanceHigh:
		return 4
	case ImportanceMedium:
		return 3
	case ImportanceLow:
		return 2
	case ImportanceTemporary:
		return 1
	}
	return 0
}

// MaxImportance returns the more important of a and b.
func MaxImportance(a, b Importance) Importance {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ShouldConsolidate reports whether entries of this tier are flagged for
// promotion into the long-term store.
func (i Importance) ShouldConsolidate() bool {
	return i == ImportanceCritical || i == ImportanceHigh
}

// AccessLevel is the four-step information lattice controlling what a
// recipient agent may see of a shared memory. Each level strictly narrows
// the previous one: full > read > summary > metadata.
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessRead     AccessLevel = "read"
	AccessSummary  AccessLevel = "summary"
	AccessMetadata AccessLevel = "metadata"
)

// Rank returns the position of the level in the lattice, higher meaning
// more information.
func (l AccessLevel) Rank() int {
	switch l {
	case AccessFull:
		return 4
	case AccessRead:
		return 3
	case AccessSummary:
		return 2
	case AccessMetadata:
		return 1
	}
	return 0
}

// Within reports whether l grants no more information than bound, i.e.
// whether l is at or below bound in the lattice.
func (l AccessLevel) Within(bound AccessLevel) bool {
	return l.Rank() <= bound.Rank()
}

// AssociationType classifies the relation an association edge expresses.
type AssociationType string

const (
	AssociationSimilar  AssociationType = "similar"
	AssociationRelated  AssociationType = "related"
	AssociationCausal   AssociationType = "causal"
	AssociationTemporal AssociationType = "temporal"
)

// ContextRefs holds the domain-entity identifiers a memory was observed in.
// All fields are optional; needToKnow broadcast routing inspects them.
type ContextRefs struct {
	ConversationID string `json:"conversation_id,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	ContractID     string `json:"contract_id,omitempty"`
	VendorID       string `json:"vendor_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
}

// ShortTermMemory is a session-scoped, rapidly expiring observation.
//
// At most one record exists per (OwnerID, SessionID, Type, Content): a
// repeat write merges into the existing record instead of inserting a
// duplicate.
type ShortTermMemory struct {
	ID        int64      `json:"id"`
	OwnerID   string     `json:"owner_id"`
	SessionID string     `json:"session_id"`
	Type      MemoryType `json:"type"`
	Content   string     `json:"content"`

	// Payload carries optional structured data alongside the text content.
	Payload map[string]interface{} `json:"payload,omitempty"`

	Context    ContextRefs `json:"context"`
	Importance Importance  `json:"importance"`

	// Confidence is the producer's confidence in the observation (0-1).
	// Merging keeps the maximum of the old and new values.
	Confidence float64 `json:"confidence"`

	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`

	// ExpiresAt is computed from CreatedAt plus the importance tier's TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// ShouldConsolidate marks the entry for promotion into the long-term
	// store. Set automatically for critical and high importance, cleared
	// once a consolidation job has processed the entry.
	ShouldConsolidate bool `json:"should_consolidate"`

	// Source tags where the observation came from (e.g. "conversation").
	Source string `json:"source,omitempty"`
}

// LongTermMemory is a durable knowledge entry promoted from consolidated
// short-term memories. Only the consolidation pipeline creates these.
type LongTermMemory struct {
	ID      int64      `json:"id"`
	OwnerID string     `json:"owner_id"`
	Type    MemoryType `json:"type"`
	Content string     `json:"content"`

	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	// Context carries the domain-entity references inherited from the
	// consolidated short-term entries. Need-to-know broadcast routing
	// inspects these.
	Context ContextRefs `json:"context"`

	// Embedding is the vector representation for similarity search.
	// Computed lazily; may be nil until the kernel has embedded the entry.
	Embedding []float64 `json:"embedding,omitempty"`

	Importance Importance `json:"importance"`

	// Strength is the current retention strength (0-1). It decays over
	// time; entries below the configured floor are flagged weak, never
	// deleted automatically.
	Strength float64 `json:"strength"`

	// Weak is set by the decay sweep when Strength falls below the floor.
	// Weak entries are candidates for explicit bulk removal.
	Weak bool `json:"weak,omitempty"`

	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemoryAssociation is a weighted, decaying edge between two long-term
// memories. Edges are created by clustering or explicit reinforcement and
// removed once strength drops below the minimum or an endpoint disappears.
type MemoryAssociation struct {
	ID int64 `json:"id"`

	// OwnerID mirrors the owner of both endpoints. Clustering is always
	// per-owner, and carrying the owner on the edge keeps decay sweeps
	// bounded without joins.
	OwnerID string `json:"owner_id"`

	FromID int64           `json:"from_id"`
	ToID   int64           `json:"to_id"`
	Type   AssociationType `json:"type"`

	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`

	CreatedAt        time.Time `json:"created_at"`
	LastReinforcedAt time.Time `json:"last_reinforced_at"`

	// LastDecayedAt is the watermark the decay sweep measures elapsed time
	// from, so re-running a sweep with no elapsed time is a no-op.
	LastDecayedAt time.Time `json:"last_decayed_at"`
}

// MinAssociationStrength is the threshold below which a decayed association
// is deleted by the maintenance sweep.
const MinAssociationStrength = 0.1

// SharingRecord grants one agent type a view of a memory at a given access
// level.
type SharingRecord struct {
	ID            int64       `json:"id"`
	MemoryID      int64       `json:"memory_id"`
	FromAgentType string      `json:"from_agent_type"`
	ToAgentType   string      `json:"to_agent_type"`
	AccessLevel   AccessLevel `json:"access_level"`
	Reason        string      `json:"reason,omitempty"`
	SharedAt      time.Time   `json:"shared_at"`
	IsActive      bool        `json:"is_active"`
}

// RequestStatus is the lifecycle state of an access request. Approved and
// denied are terminal: a request is decided at most once.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// AccessRequest asks the owner of a memory to grant access at a level.
type AccessRequest struct {
	ID              int64         `json:"id"`
	MemoryID        int64         `json:"memory_id"`
	RequestingAgent string        `json:"requesting_agent"`
	OwnerAgent      string        `json:"owner_agent"`
	Reason          string        `json:"reason,omitempty"`
	RequestedLevel  AccessLevel   `json:"requested_level"`
	Status          RequestStatus `json:"status"`
	RequestedAt     time.Time     `json:"requested_at"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	DecidedBy       string        `json:"decided_by,omitempty"`
	DecisionNote    string        `json:"decision_note,omitempty"`
	AutoApproved    bool          `json:"auto_approved,omitempty"`
}

// PoolPolicy gates how contributed pool entries become active.
type PoolPolicy string

const (
	// PoolOpen activates contributions immediately.
	PoolOpen PoolPolicy = "open"

	// PoolModerated requires any participant to approve contributions.
	PoolModerated PoolPolicy = "moderated"

	// PoolCurated requires the pool's curator to approve contributions.
	PoolCurated PoolPolicy = "curated"
)

// MemoryPool is a named, policy-gated collection agents jointly contribute
// memories to.
type MemoryPool struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Participants []string     `json:"participants"`
	AllowedTypes []MemoryType `json:"allowed_types"`
	Policy       PoolPolicy   `json:"policy"`

	// Curator is the agent type allowed to approve entries in a curated
	// pool. Empty for open and moderated pools.
	Curator string `json:"curator,omitempty"`

	// Contributions counts accepted entries per contributing agent type.
	Contributions map[string]int `json:"contributions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PoolEntryStatus is the lifecycle state of a pool contribution.
type PoolEntryStatus string

const (
	PoolEntryPending  PoolEntryStatus = "pending"
	PoolEntryActive   PoolEntryStatus = "active"
	PoolEntryRejected PoolEntryStatus = "rejected"
)

// MemoryPoolEntry is one contributed memory inside a pool.
type MemoryPoolEntry struct {
	ID          int64           `json:"id"`
	PoolID      int64           `json:"pool_id"`
	MemoryID    int64           `json:"memory_id"`
	Contributor string          `json:"contributor"`
	Status      PoolEntryStatus `json:"status"`
	AddedAt     time.Time       `json:"added_at"`
}

// JobStatus is the lifecycle state shared by consolidation jobs and sync
// sessions.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ConsolidationJob tracks one batch promotion of flagged short-term entries
// into the long-term store. Failed jobs carry the error message and are
// retried only by re-invocation, never automatically.
type ConsolidationJob struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	MemoryIDs []int64   `json:"memory_ids"`
	Status    JobStatus `json:"status"`

	Processed    int    `json:"processed"`
	Consolidated int    `json:"consolidated"`
	Errored      int    `json:"errored"`
	Error        string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SyncSession tracks one bidirectional knowledge sync between two agent
// types.
type SyncSession struct {
	ID       int64     `json:"id"`
	AgentA   string    `json:"agent_a"`
	AgentB   string    `json:"agent_b"`
	SyncType string    `json:"sync_type"`
	Status   JobStatus `json:"status"`

	Shared  int    `json:"shared"`
	Skipped int    `json:"skipped"`
	Errored int    `json:"errored"`
	Error   string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SessionStatus is the lifecycle state of a short-term session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// SessionRecord tracks the activity of one short-term session so the
// maintenance engine can archive idle ones.
type SessionRecord struct {
	OwnerID       string        `json:"owner_id"`
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	LastTouchedAt time.Time     `json:"last_touched_at"`
	CreatedAt     time.Time     `json:"created_at"`
}
