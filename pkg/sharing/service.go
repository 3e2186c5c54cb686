package sharing

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/storage"
)

// BroadcastPolicy selects how broadcast recipients are chosen.
type BroadcastPolicy string

const (
	// PolicyBroadcast offers the memory to every agent whose profile needs
	// its type.
	PolicyBroadcast BroadcastPolicy = "broadcast"

	// PolicySelective routes by profile keywords matched against the memory
	// content. The manager role is always included for critical and high
	// importance memories.
	PolicySelective BroadcastPolicy = "selective"

	// PolicyNeedToKnow routes by the domain entities referenced in the
	// memory's context against the entities each profile handles.
	PolicyNeedToKnow BroadcastPolicy = "need_to_know"
)

// ShareResult reports the outcome of a single share attempt.
type ShareResult struct {
	Shared    bool   `json:"shared"`
	SharingID int64  `json:"sharing_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Level is the effective access level granted, which may be lower than
	// requested for critical memories.
	Level memory.AccessLevel `json:"level,omitempty"`
}

// BroadcastResult reports which agents a broadcast reached. Failed counts
// recipients whose share could not be recorded; the rest of the fan-out is
// unaffected.
type BroadcastResult struct {
	Broadcast  bool     `json:"broadcast"`
	Recipients []string `json:"recipients,omitempty"`
	Failed     int      `json:"failed,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// SyncCriteria narrows what a knowledge sync considers.
type SyncCriteria struct {
	// Types restricts the sync to the given memory types. Empty means every
	// type the recipient's profile needs.
	Types []memory.MemoryType

	// Limit caps the memories considered per direction. 0 applies the
	// backend default page size.
	Limit int
}

// SyncFull and SyncDifferential are the supported sync modes. Differential
// only considers memories created inside the recency window.
const (
	SyncFull         = "full"
	SyncDifferential = "differential"
)

// differentialWindow is how far back a differential sync looks.
const differentialWindow = 24 * time.Hour

// Service implements cross-agent memory sharing: direct shares, policy
// broadcasts, access requests with auto-approval, knowledge sync, and
// memory pools. Agent identity is the agent type; each agent's long-term
// memories are stored under its type as owner.
type Service struct {
	memories storage.LongTermStore
	sharing  storage.SharingStore
	jobs     storage.JobStore
	profiles *ProfileTable
	node     *snowflake.Node
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a sharing service. A nil profile table falls back to
// the built-in defaults; the clock defaults to time.Now and the logger to a
// no-op logger when nil.
func NewService(memories storage.LongTermStore, sharing storage.SharingStore, jobs storage.JobStore, profiles *ProfileTable, node *snowflake.Node, now func() time.Time, logger *zap.Logger) *Service {
	if profiles == nil {
		profiles = DefaultProfileTable()
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		memories: memories,
		sharing:  sharing,
		jobs:     jobs,
		profiles: profiles,
		node:     node,
		now:      now,
		logger:   logger,
	}
}

// ShareMemory offers one memory to one recipient agent type.
//
// The share is refused, not errored, when the recipient's profile does not
// need the memory's type: the result carries Shared=false and the reason.
// An empty level falls back to the recipient profile's default, and critical
// memories are capped at read unless the recipient's default level is full.
func (s *Service) ShareMemory(ctx context.Context, memoryID int64, fromAgent, toAgent string, level memory.AccessLevel, reason string) (*ShareResult, error) {
	op := "ShareMemory"

	m, err := s.memories.GetLongTerm(ctx, memoryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	profile, err := s.profiles.Get(toAgent)
	if err != nil {
		return &ShareResult{Shared: false, Reason: fmt.Sprintf("unknown agent type %q", toAgent)}, nil
	}
	if !profile.NeedsType(m.Type) {
		return &ShareResult{
			Shared: false,
			Reason: fmt.Sprintf("agent %s does not consume %s memories", toAgent, m.Type),
		}, nil
	}

	effective := effectiveLevel(m, level, profile.DefaultAccessLevel)
	rec := &memory.SharingRecord{
		ID:            s.node.Generate().Int64(),
		MemoryID:      m.ID,
		FromAgentType: fromAgent,
		ToAgentType:   toAgent,
		AccessLevel:   effective,
		Reason:        reason,
		SharedAt:      s.now().UTC(),
		IsActive:      true,
	}
	if err := s.sharing.InsertSharing(ctx, rec); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	s.logger.Debug("memory shared",
		zap.Int64("memory_id", m.ID),
		zap.String("to", toAgent),
		zap.String("level", string(effective)))
	return &ShareResult{Shared: true, SharingID: rec.ID, Level: effective}, nil
}

// BroadcastMemory shares one memory with every agent the policy selects.
// Only critical and high importance memories broadcast; lower tiers return
// Broadcast=false without error. The source agent never receives its own
// broadcast. A recipient whose share cannot be recorded is counted as failed
// and never blocks the remaining recipients.
func (s *Service) BroadcastMemory(ctx context.Context, memoryID int64, fromAgent string, policy BroadcastPolicy) (*BroadcastResult, error) {
	op := "BroadcastMemory"

	m, err := s.memories.GetLongTerm(ctx, memoryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if m.Importance != memory.ImportanceCritical && m.Importance != memory.ImportanceHigh {
		return &BroadcastResult{
			Broadcast: false,
			Reason:    fmt.Sprintf("importance %s is below the broadcast threshold", m.Importance),
		}, nil
	}

	recipients := s.selectRecipients(m, fromAgent, policy)
	if len(recipients) == 0 {
		return &BroadcastResult{Broadcast: false, Reason: "no matching recipients"}, nil
	}

	result := &BroadcastResult{Broadcast: true}
	for _, p := range recipients {
		rec := &memory.SharingRecord{
			ID:            s.node.Generate().Int64(),
			MemoryID:      m.ID,
			FromAgentType: fromAgent,
			ToAgentType:   p.AgentType,
			AccessLevel:   effectiveLevel(m, "", p.DefaultAccessLevel),
			Reason:        fmt.Sprintf("%s broadcast", policy),
			SharedAt:      s.now().UTC(),
			IsActive:      true,
		}
		if err := s.sharing.InsertSharing(ctx, rec); err != nil {
			s.logger.Warn("broadcast share failed",
				zap.Int64("memory_id", m.ID),
				zap.String("to", p.AgentType),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Recipients = append(result.Recipients, p.AgentType)
	}

	s.logger.Info("memory broadcast",
		zap.Int64("memory_id", m.ID),
		zap.String("policy", string(policy)),
		zap.Strings("recipients", result.Recipients),
		zap.Int("failed", result.Failed))
	return result, nil
}

// selectRecipients applies the broadcast policy over the profile table.
// Every policy first requires the recipient to need the memory's type and
// excludes the source agent.
func (s *Service) selectRecipients(m *memory.LongTermMemory, fromAgent string, policy BroadcastPolicy) []*AgentProfile {
	var out []*AgentProfile
	for _, p := range s.profiles.All() {
		if p.AgentType == fromAgent || !p.NeedsType(m.Type) {
			continue
		}
		switch policy {
		case PolicyBroadcast:
			out = append(out, p)
		case PolicySelective:
			if p.matchesContent(m.Content) || p.AgentType == ManagerRole {
				out = append(out, p)
			}
		case PolicyNeedToKnow:
			if s.referencesHandledEntity(m, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Service) referencesHandledEntity(m *memory.LongTermMemory, p *AgentProfile) bool {
	if m.Context.ContractID != "" && p.handlesEntity("contract") {
		return true
	}
	if m.Context.VendorID != "" && p.handlesEntity("vendor") {
		return true
	}
	return false
}

// RequestAccess files an access request for a memory owned by another agent.
//
// Low-stakes requests are auto-approved: the requested level must sit within
// the requester profile's default level, and the memory's importance must be
// low or temporary, or medium with a requested level of read or summary.
// Everything else stays pending for ProcessAccessRequest.
func (s *Service) RequestAccess(ctx context.Context, memoryID int64, requestingAgent, ownerAgent string, level memory.AccessLevel, reason string) (*memory.AccessRequest, error) {
	op := "RequestAccess"

	if level.Rank() == 0 {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: invalid access level %q", memory.ErrValidation, level))
	}
	m, err := s.memories.GetLongTerm(ctx, memoryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	now := s.now().UTC()
	req := &memory.AccessRequest{
		ID:              s.node.Generate().Int64(),
		MemoryID:        memoryID,
		RequestingAgent: requestingAgent,
		OwnerAgent:      ownerAgent,
		Reason:          reason,
		RequestedLevel:  level,
		Status:          memory.RequestPending,
		RequestedAt:     now,
	}

	if s.autoApprovable(m, requestingAgent, level) {
		req.Status = memory.RequestApproved
		req.AutoApproved = true
		req.DecidedAt = &now
		req.DecidedBy = "auto"
	}
	if err := s.sharing.InsertAccessRequest(ctx, req); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	if req.AutoApproved {
		if err := s.grantFromRequest(ctx, m, req); err != nil {
			return nil, memory.NewEngineError(op, err)
		}
		s.logger.Debug("access request auto approved",
			zap.Int64("memory_id", memoryID),
			zap.String("requester", requestingAgent))
	}
	return req, nil
}

func (s *Service) autoApprovable(m *memory.LongTermMemory, requestingAgent string, level memory.AccessLevel) bool {
	profile, err := s.profiles.Get(requestingAgent)
	if err != nil || !level.Within(profile.DefaultAccessLevel) {
		return false
	}
	switch m.Importance {
	case memory.ImportanceLow, memory.ImportanceTemporary:
		return true
	case memory.ImportanceMedium:
		return level == memory.AccessRead || level == memory.AccessSummary
	}
	return false
}

// grantFromRequest materializes an approved request as an active sharing
// record from the owner to the requester.
func (s *Service) grantFromRequest(ctx context.Context, m *memory.LongTermMemory, req *memory.AccessRequest) error {
	var profileLevel memory.AccessLevel
	if profile, err := s.profiles.Get(req.RequestingAgent); err == nil {
		profileLevel = profile.DefaultAccessLevel
	}
	rec := &memory.SharingRecord{
		ID:            s.node.Generate().Int64(),
		MemoryID:      req.MemoryID,
		FromAgentType: req.OwnerAgent,
		ToAgentType:   req.RequestingAgent,
		AccessLevel:   effectiveLevel(m, req.RequestedLevel, profileLevel),
		Reason:        req.Reason,
		SharedAt:      s.now().UTC(),
		IsActive:      true,
	}
	return s.sharing.InsertSharing(ctx, rec)
}

// ProcessAccessRequest decides a pending request. The transition is guarded
// in the store, so deciding a request twice fails with
// memory.ErrInvalidState. Approval creates the sharing record.
func (s *Service) ProcessAccessRequest(ctx context.Context, requestID int64, approve bool, decidedBy, note string) (*memory.AccessRequest, error) {
	op := "ProcessAccessRequest"

	req, err := s.sharing.GetAccessRequest(ctx, requestID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	status := memory.RequestDenied
	if approve {
		status = memory.RequestApproved
	}
	now := s.now().UTC()
	if err := s.sharing.DecideAccessRequest(ctx, requestID, status, decidedBy, note, now); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = decidedBy
	req.DecisionNote = note

	if approve {
		m, err := s.memories.GetLongTerm(ctx, req.MemoryID)
		if err != nil {
			return nil, memory.NewEngineError(op, err)
		}
		if err := s.grantFromRequest(ctx, m, req); err != nil {
			return nil, memory.NewEngineError(op, err)
		}
	}
	return req, nil
}

// GetSharedMemories returns the memories currently shared with an agent,
// each projected at the level its sharing record grants. Records whose
// memory has since been removed are skipped.
func (s *Service) GetSharedMemories(ctx context.Context, agentType string, limit int) ([]*SharedView, error) {
	op := "GetSharedMemories"

	records, err := s.sharing.ListSharing(ctx, &storage.SharingQuery{
		ToAgentType: agentType,
		ActiveOnly:  true,
		Limit:       limit,
	})
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	views := make([]*SharedView, 0, len(records))
	var accessed []int64
	for _, rec := range records {
		m, err := s.memories.GetLongTerm(ctx, rec.MemoryID)
		if err != nil {
			continue
		}
		views = append(views, Project(m, rec.AccessLevel))
		accessed = append(accessed, m.ID)
	}
	if len(accessed) > 0 {
		if err := s.memories.BumpLongTermAccess(ctx, accessed, s.now().UTC()); err != nil {
			s.logger.Warn("access bump failed", zap.Error(err))
		}
	}
	return views, nil
}

// SyncAgentKnowledge runs a bidirectional knowledge exchange between two
// agent types under a tracked sync session.
//
// Each direction offers the source agent's memories that the destination's
// profile needs, skipping memories already shared with it. A failure on one
// memory is counted and does not stop the rest of the sync; the session only
// fails when both directions fail outright. Differential syncs only consider
// memories created inside the recency window.
func (s *Service) SyncAgentKnowledge(ctx context.Context, agentA, agentB, syncType string, criteria *SyncCriteria) (*memory.SyncSession, error) {
	op := "SyncAgentKnowledge"

	if syncType != SyncFull && syncType != SyncDifferential {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: unknown sync type %q", memory.ErrValidation, syncType))
	}
	if criteria == nil {
		criteria = &SyncCriteria{}
	}

	sess := &memory.SyncSession{
		ID:        s.node.Generate().Int64(),
		AgentA:    agentA,
		AgentB:    agentB,
		SyncType:  syncType,
		Status:    memory.JobPending,
		StartedAt: s.now().UTC(),
	}
	if err := s.jobs.InsertSyncSession(ctx, sess); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if err := s.jobs.MarkSyncInProgress(ctx, sess.ID); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	sess.Status = memory.JobInProgress

	errAB := s.syncDirection(ctx, sess, agentA, agentB, syncType, criteria)
	errBA := s.syncDirection(ctx, sess, agentB, agentA, syncType, criteria)

	sess.Status = memory.JobCompleted
	if errAB != nil && errBA != nil {
		sess.Status = memory.JobFailed
		sess.Error = fmt.Sprintf("%v; %v", errAB, errBA)
	}
	finished := s.now().UTC()
	sess.FinishedAt = &finished
	if err := s.jobs.FinishSyncSession(ctx, sess); err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	s.logger.Info("knowledge sync finished",
		zap.String("agent_a", agentA),
		zap.String("agent_b", agentB),
		zap.String("status", string(sess.Status)),
		zap.Int("shared", sess.Shared),
		zap.Int("skipped", sess.Skipped),
		zap.Int("errored", sess.Errored))
	return sess, nil
}

// syncDirection offers from's memories to to, updating the session counters
// in place. Per-memory errors are counted, never propagated; a direction
// that cannot even enumerate its candidates reports that to the caller.
func (s *Service) syncDirection(ctx context.Context, sess *memory.SyncSession, from, to, syncType string, criteria *SyncCriteria) error {
	profile, err := s.profiles.Get(to)
	if err != nil {
		sess.Errored++
		return fmt.Errorf("%s to %s: resolve profile: %w", from, to, err)
	}

	q := &storage.LongTermQuery{
		OwnerID: from,
		Types:   criteria.Types,
		Limit:   criteria.Limit,
	}
	if syncType == SyncDifferential {
		q.CreatedAfter = s.now().UTC().Add(-differentialWindow)
	}
	candidates, err := s.memories.ListLongTerm(ctx, q)
	if err != nil {
		sess.Errored++
		return fmt.Errorf("%s to %s: list memories: %w", from, to, err)
	}

	for _, m := range candidates {
		if !profile.NeedsType(m.Type) {
			sess.Skipped++
			continue
		}
		existing, err := s.sharing.ListSharing(ctx, &storage.SharingQuery{
			MemoryID:    m.ID,
			ToAgentType: to,
			ActiveOnly:  true,
			Limit:       1,
		})
		if err != nil {
			sess.Errored++
			continue
		}
		if len(existing) > 0 {
			sess.Skipped++
			continue
		}

		rec := &memory.SharingRecord{
			ID:            s.node.Generate().Int64(),
			MemoryID:      m.ID,
			FromAgentType: from,
			ToAgentType:   to,
			AccessLevel:   effectiveLevel(m, "", profile.DefaultAccessLevel),
			Reason:        fmt.Sprintf("%s sync", syncType),
			SharedAt:      s.now().UTC(),
			IsActive:      true,
		}
		if err := s.sharing.InsertSharing(ctx, rec); err != nil {
			sess.Errored++
			continue
		}
		sess.Shared++
	}
	return nil
}

// CreatePool creates a named memory pool. Curated pools require a curator
// drawn from the participants.
func (s *Service) CreatePool(ctx context.Context, name string, participants []string, allowedTypes []memory.MemoryType, policy memory.PoolPolicy, curator string) (*memory.MemoryPool, error) {
	op := "CreatePool"

	if name == "" || len(participants) == 0 {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: pool needs a name and participants", memory.ErrValidation))
	}
	switch policy {
	case memory.PoolOpen, memory.PoolModerated:
	case memory.PoolCurated:
		if !contains(participants, curator) {
			return nil, memory.NewEngineError(op, fmt.Errorf("%w: curated pool needs a curator among participants", memory.ErrValidation))
		}
	default:
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: unknown pool policy %q", memory.ErrValidation, policy))
	}
	for _, t := range allowedTypes {
		if !memory.ValidMemoryType(t) {
			return nil, memory.NewEngineError(op, fmt.Errorf("%w: unknown memory type %q", memory.ErrValidation, t))
		}
	}
	if policy != memory.PoolCurated {
		curator = ""
	}

	pool := &memory.MemoryPool{
		ID:            s.node.Generate().Int64(),
		Name:          name,
		Participants:  participants,
		AllowedTypes:  allowedTypes,
		Policy:        policy,
		Curator:       curator,
		Contributions: map[string]int{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.sharing.InsertPool(ctx, pool); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	return pool, nil
}

// AddToPool contributes a memory to a pool. The contributor must be a
// participant and the memory's type must be allowed; violations fail with
// memory.ErrUnauthorized. Open pools activate the entry immediately,
// moderated and curated pools leave it pending.
func (s *Service) AddToPool(ctx context.Context, poolID, memoryID int64, contributor string) (*memory.MemoryPoolEntry, error) {
	op := "AddToPool"

	pool, err := s.sharing.GetPool(ctx, poolID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if !contains(pool.Participants, contributor) {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: %s is not a pool participant", memory.ErrUnauthorized, contributor))
	}
	m, err := s.memories.GetLongTerm(ctx, memoryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if len(pool.AllowedTypes) > 0 && !containsType(pool.AllowedTypes, m.Type) {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: pool does not accept %s memories", memory.ErrUnauthorized, m.Type))
	}

	status := memory.PoolEntryPending
	if pool.Policy == memory.PoolOpen {
		status = memory.PoolEntryActive
	}
	entry := &memory.MemoryPoolEntry{
		ID:          s.node.Generate().Int64(),
		PoolID:      poolID,
		MemoryID:    memoryID,
		Contributor: contributor,
		Status:      status,
		AddedAt:     s.now().UTC(),
	}
	if err := s.sharing.InsertPoolEntry(ctx, entry); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if status == memory.PoolEntryActive {
		if err := s.sharing.AddPoolContribution(ctx, poolID, contributor); err != nil {
			return nil, memory.NewEngineError(op, err)
		}
	}
	return entry, nil
}

// DecidePoolEntry approves or rejects a pending contribution. In a moderated
// pool any participant may decide; in a curated pool only the curator may.
// The transition is guarded, so deciding an entry twice fails with
// memory.ErrInvalidState.
func (s *Service) DecidePoolEntry(ctx context.Context, entryID int64, approver string, approve bool) (*memory.MemoryPoolEntry, error) {
	op := "DecidePoolEntry"

	entry, err := s.sharing.GetPoolEntry(ctx, entryID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	pool, err := s.sharing.GetPool(ctx, entry.PoolID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	switch pool.Policy {
	case memory.PoolOpen:
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: open pool entries need no approval", memory.ErrInvalidState))
	case memory.PoolModerated:
		if !contains(pool.Participants, approver) {
			return nil, memory.NewEngineError(op, fmt.Errorf("%w: %s is not a pool participant", memory.ErrUnauthorized, approver))
		}
	case memory.PoolCurated:
		if approver != pool.Curator {
			return nil, memory.NewEngineError(op, fmt.Errorf("%w: only curator %s may decide", memory.ErrUnauthorized, pool.Curator))
		}
	}

	status := memory.PoolEntryRejected
	if approve {
		status = memory.PoolEntryActive
	}
	if err := s.sharing.DecidePoolEntry(ctx, entryID, status); err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	entry.Status = status

	if approve {
		if err := s.sharing.AddPoolContribution(ctx, entry.PoolID, entry.Contributor); err != nil {
			return nil, memory.NewEngineError(op, err)
		}
	}
	return entry, nil
}

// GetPoolMemories returns a pool's active contributions, projected at read
// level, to a requesting participant.
func (s *Service) GetPoolMemories(ctx context.Context, poolID int64, requester string) ([]*SharedView, error) {
	op := "GetPoolMemories"

	pool, err := s.sharing.GetPool(ctx, poolID)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}
	if !contains(pool.Participants, requester) {
		return nil, memory.NewEngineError(op, fmt.Errorf("%w: %s is not a pool participant", memory.ErrUnauthorized, requester))
	}

	entries, err := s.sharing.ListPoolEntries(ctx, poolID, memory.PoolEntryActive)
	if err != nil {
		return nil, memory.NewEngineError(op, err)
	}

	views := make([]*SharedView, 0, len(entries))
	for _, entry := range entries {
		m, err := s.memories.GetLongTerm(ctx, entry.MemoryID)
		if err != nil {
			continue
		}
		views = append(views, Project(m, memory.AccessRead))
	}
	return views, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsType(list []memory.MemoryType, t memory.MemoryType) bool {
	for _, item := range list {
		if item == t {
			return true
		}
	}
	return false
}
