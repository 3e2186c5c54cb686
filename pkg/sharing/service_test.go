package sharing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/sharing"
	"github.com/synaptek/memoria/pkg/storage"
	"github.com/synaptek/memoria/pkg/storage/sqlite"
)

func newTestService(t *testing.T) (*sharing.Service, *sqlite.Client) {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return sharing.NewService(client, client, client, nil, node, nil, nil), client
}

func seedOwned(t *testing.T, client *sqlite.Client, id int64, owner string, mtype memory.MemoryType,
	content string, importance memory.Importance, refs memory.ContextRefs) {
	t.Helper()
	now := time.Now().UTC()
	err := client.InsertLongTerm(context.Background(), &memory.LongTermMemory{
		ID:         id,
		OwnerID:    owner,
		Type:       mtype,
		Content:    content,
		Summary:    content,
		Context:    refs,
		Importance: importance,
		Strength:   0.8,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
}

func TestShareMemoryDefaultsToProfileLevel(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"budget ceiling for Q3 is fixed", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.ShareMemory(ctx, 1, "manager", "financial_specialist", "", "quarterly planning")
	require.NoError(t, err)
	assert.True(t, result.Shared)
	assert.Equal(t, memory.AccessRead, result.Level)
	assert.NotZero(t, result.SharingID)

	views, err := svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, memory.AccessRead, views[0].AccessLevel)
	assert.Equal(t, "budget ceiling for Q3 is fixed", views[0].Content)
	assert.Empty(t, views[0].Embedding)
}

func TestShareMemoryRefusesUnneededType(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "assistant", memory.TypePreference,
		"user prefers short replies", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.ShareMemory(ctx, 1, "assistant", "financial_specialist", "", "")
	require.NoError(t, err, "a needs mismatch is a refusal, not an error")
	assert.False(t, result.Shared)
	assert.NotEmpty(t, result.Reason)
}

func TestShareMemoryUnknownRecipient(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"fact", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.ShareMemory(ctx, 1, "manager", "intern", "", "")
	require.NoError(t, err)
	assert.False(t, result.Shared)
}

func TestShareMemoryUnknownMemory(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ShareMemory(context.Background(), 999, "manager", "financial_specialist", "", "")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestShareMemoryCriticalCapsAtRead(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"master escalation contact", memory.ImportanceCritical, memory.ContextRefs{})

	// Requested full, but the recipient's default level is read.
	result, err := svc.ShareMemory(ctx, 1, "manager", "financial_specialist", memory.AccessFull, "")
	require.NoError(t, err)
	assert.Equal(t, memory.AccessRead, result.Level)

	// The cap never raises: a summary request stays summary.
	result, err = svc.ShareMemory(ctx, 1, "manager", "financial_specialist", memory.AccessSummary, "")
	require.NoError(t, err)
	assert.Equal(t, memory.AccessSummary, result.Level)

	// A full-default recipient keeps the requested level.
	seedOwned(t, client, 2, "assistant", memory.TypeTaskHistory,
		"escalation handled", memory.ImportanceCritical, memory.ContextRefs{})
	result, err = svc.ShareMemory(ctx, 2, "assistant", "manager", memory.AccessFull, "")
	require.NoError(t, err)
	assert.Equal(t, memory.AccessFull, result.Level)
}

func TestBroadcastBelowThreshold(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"minor note", memory.ImportanceMedium, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "manager", sharing.PolicyBroadcast)
	require.NoError(t, err)
	assert.False(t, result.Broadcast)
	assert.Empty(t, result.Recipients)
}

func TestBroadcastReachesEveryConsumer(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"fleet wide announcement", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "manager", sharing.PolicyBroadcast)
	require.NoError(t, err)
	assert.True(t, result.Broadcast)
	assert.ElementsMatch(t, []string{
		"financial_specialist", "legal_specialist",
		"procurement_specialist", "analytics_specialist",
	}, result.Recipients, "every consumer of the type except the source")
}

func TestBroadcastSelectiveRoutesByKeyword(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "assistant", memory.TypeDomainKnowledge,
		"the Budget for the migration doubled", memory.ImportanceCritical, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "assistant", sharing.PolicySelective)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"financial_specialist", "manager"},
		result.Recipients, "keyword match plus the always-included manager")

	views, err := svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, memory.AccessRead, views[0].AccessLevel, "read-default recipients keep read for critical")
}

func TestBroadcastCriticalNeverRaisesAccess(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"master key rotation schedule", memory.ImportanceCritical, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "manager", sharing.PolicyBroadcast)
	require.NoError(t, err)
	assert.Contains(t, result.Recipients, "analytics_specialist")

	// A summary-default recipient stays at summary: no content leaks.
	views, err := svc.GetSharedMemories(ctx, "analytics_specialist", 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, memory.AccessSummary, views[0].AccessLevel)
	assert.Empty(t, views[0].Content)
	assert.NotEmpty(t, views[0].Summary)

	// A read-default recipient keeps read; full stays reserved for
	// full-default profiles.
	views, err = svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, memory.AccessRead, views[0].AccessLevel)
	assert.Empty(t, views[0].Embedding)
}

func TestBroadcastNeedToKnowRoutesByEntity(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "assistant", memory.TypeDomainKnowledge,
		"delivery slipped a week", memory.ImportanceHigh,
		memory.ContextRefs{VendorID: "acme"})

	result, err := svc.BroadcastMemory(ctx, 1, "assistant", sharing.PolicyNeedToKnow)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"manager", "procurement_specialist"},
		result.Recipients, "only profiles handling the vendor entity")
}

func TestBroadcastExcludesSource(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "financial_specialist", memory.TypeDomainKnowledge,
		"cost forecast updated", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "financial_specialist", sharing.PolicySelective)
	require.NoError(t, err)
	assert.NotContains(t, result.Recipients, "financial_specialist")
}

// flakySharingStore fails the first insert and then delegates.
type flakySharingStore struct {
	storage.SharingStore
	failures int
}

func (f *flakySharingStore) InsertSharing(ctx context.Context, rec *memory.SharingRecord) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("insert rejected")
	}
	return f.SharingStore.InsertSharing(ctx, rec)
}

func TestBroadcastIsolatesRecipientFailures(t *testing.T) {
	client, err := sqlite.NewClient(&sqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	svc := sharing.NewService(client, &flakySharingStore{SharingStore: client, failures: 1},
		client, nil, node, nil, nil)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"fleet wide announcement", memory.ImportanceHigh, memory.ContextRefs{})

	result, err := svc.BroadcastMemory(ctx, 1, "manager", sharing.PolicyBroadcast)
	require.NoError(t, err, "one recipient failing never fails the broadcast")
	assert.True(t, result.Broadcast)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Recipients, 3, "remaining recipients are still reached")
}

func TestRequestAccessAutoApproval(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"low stakes note", memory.ImportanceLow, memory.ContextRefs{})

	req, err := svc.RequestAccess(ctx, 1, "financial_specialist", "manager",
		memory.AccessRead, "routine lookup")
	require.NoError(t, err)
	assert.Equal(t, memory.RequestApproved, req.Status)
	assert.True(t, req.AutoApproved)
	assert.Equal(t, "auto", req.DecidedBy)
	require.NotNil(t, req.DecidedAt)

	// The grant is live immediately.
	views, err := svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestRequestAccessAutoApprovalMatrix(t *testing.T) {
	cases := []struct {
		name       string
		importance memory.Importance
		requester  string
		level      memory.AccessLevel
		approved   bool
	}{
		{"temporary within lattice", memory.ImportanceTemporary, "financial_specialist", memory.AccessSummary, true},
		{"medium at read", memory.ImportanceMedium, "financial_specialist", memory.AccessRead, true},
		{"medium at full", memory.ImportanceMedium, "manager", memory.AccessFull, false},
		{"high stays pending", memory.ImportanceHigh, "financial_specialist", memory.AccessRead, false},
		{"critical stays pending", memory.ImportanceCritical, "manager", memory.AccessRead, false},
		{"beyond profile lattice", memory.ImportanceLow, "analytics_specialist", memory.AccessRead, false},
		{"unknown requester", memory.ImportanceLow, "stranger", memory.AccessRead, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, client := newTestService(t)
			ctx := context.Background()

			seedOwned(t, client, 1, "assistant", memory.TypeDomainKnowledge,
				"subject", tc.importance, memory.ContextRefs{})

			req, err := svc.RequestAccess(ctx, 1, tc.requester, "assistant", tc.level, "")
			require.NoError(t, err)
			if tc.approved {
				assert.Equal(t, memory.RequestApproved, req.Status)
				assert.True(t, req.AutoApproved)
			} else {
				assert.Equal(t, memory.RequestPending, req.Status)
				assert.False(t, req.AutoApproved)
			}
		})
	}
}

func TestRequestAccessInvalidLevel(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RequestAccess(context.Background(), 1, "financial_specialist", "manager", "everything", "")
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestProcessAccessRequestApprove(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"guarded fact", memory.ImportanceHigh, memory.ContextRefs{})

	req, err := svc.RequestAccess(ctx, 1, "financial_specialist", "manager", memory.AccessRead, "need it")
	require.NoError(t, err)
	require.Equal(t, memory.RequestPending, req.Status)

	decided, err := svc.ProcessAccessRequest(ctx, req.ID, true, "manager", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, memory.RequestApproved, decided.Status)
	assert.Equal(t, "manager", decided.DecidedBy)
	assert.Equal(t, "looks fine", decided.DecisionNote)

	views, err := svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	assert.Len(t, views, 1)

	// A decision is terminal.
	_, err = svc.ProcessAccessRequest(ctx, req.ID, false, "manager", "")
	assert.ErrorIs(t, err, memory.ErrInvalidState)
}

func TestProcessAccessRequestDeny(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"guarded fact", memory.ImportanceHigh, memory.ContextRefs{})

	req, err := svc.RequestAccess(ctx, 1, "financial_specialist", "manager", memory.AccessRead, "")
	require.NoError(t, err)

	decided, err := svc.ProcessAccessRequest(ctx, req.ID, false, "manager", "not yet")
	require.NoError(t, err)
	assert.Equal(t, memory.RequestDenied, decided.Status)

	views, err := svc.GetSharedMemories(ctx, "financial_specialist", 10)
	require.NoError(t, err)
	assert.Empty(t, views, "denial grants nothing")
}

func TestSyncAgentKnowledge(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"contract template updated", memory.ImportanceHigh, memory.ContextRefs{})
	seedOwned(t, client, 2, "manager", memory.TypeDomainKnowledge,
		"vendor scoring rules", memory.ImportanceHigh, memory.ContextRefs{})
	// The recipient's profile does not need preferences.
	seedOwned(t, client, 3, "manager", memory.TypePreference,
		"prefers dashboards", memory.ImportanceHigh, memory.ContextRefs{})

	sess, err := svc.SyncAgentKnowledge(ctx, "manager", "financial_specialist", sharing.SyncFull, nil)
	require.NoError(t, err)
	assert.Equal(t, memory.JobCompleted, sess.Status)
	assert.Equal(t, 2, sess.Shared)
	assert.Equal(t, 1, sess.Skipped)
	assert.Equal(t, 0, sess.Errored)
	require.NotNil(t, sess.FinishedAt)

	// A second sync finds everything already shared.
	again, err := svc.SyncAgentKnowledge(ctx, "manager", "financial_specialist", sharing.SyncFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Shared)
	assert.Equal(t, 3, again.Skipped)
}

func TestSyncDifferentialIgnoresOldMemories(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, client.InsertLongTerm(ctx, &memory.LongTermMemory{
		ID: 1, OwnerID: "manager", Type: memory.TypeDomainKnowledge,
		Content: "stale fact", Importance: memory.ImportanceHigh,
		Strength: 0.8, CreatedAt: old, UpdatedAt: old,
	}))
	seedOwned(t, client, 2, "manager", memory.TypeDomainKnowledge,
		"fresh fact", memory.ImportanceHigh, memory.ContextRefs{})

	sess, err := svc.SyncAgentKnowledge(ctx, "manager", "financial_specialist", sharing.SyncDifferential, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Shared, "only memories inside the recency window")
}

func TestSyncAgentKnowledgeUnknownType(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SyncAgentKnowledge(context.Background(), "manager", "financial_specialist", "partial", nil)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestSyncFailsWhenBothDirectionsFail(t *testing.T) {
	svc, _ := newTestService(t)

	sess, err := svc.SyncAgentKnowledge(context.Background(), "ghost", "phantom", sharing.SyncFull, nil)
	require.NoError(t, err)
	assert.Equal(t, memory.JobFailed, sess.Status)
	assert.NotEmpty(t, sess.Error)
	assert.Equal(t, 2, sess.Errored)
	require.NotNil(t, sess.FinishedAt)
}

func TestSyncCompletesWhenOneDirectionFails(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"still flows one way", memory.ImportanceHigh, memory.ContextRefs{})

	// Only the direction offering to the unknown agent fails.
	sess, err := svc.SyncAgentKnowledge(ctx, "manager", "ghost", sharing.SyncFull, nil)
	require.NoError(t, err)
	assert.Equal(t, memory.JobCompleted, sess.Status)
	assert.Equal(t, 1, sess.Errored)
	assert.Empty(t, sess.Error)
}

func TestOpenPoolActivatesImmediately(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"shared insight", memory.ImportanceHigh, memory.ContextRefs{})

	pool, err := svc.CreatePool(ctx, "insights",
		[]string{"manager", "financial_specialist"},
		[]memory.MemoryType{memory.TypeDomainKnowledge}, memory.PoolOpen, "")
	require.NoError(t, err)

	entry, err := svc.AddToPool(ctx, pool.ID, 1, "manager")
	require.NoError(t, err)
	assert.Equal(t, memory.PoolEntryActive, entry.Status)

	stored, err := client.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Contributions["manager"])

	views, err := svc.GetPoolMemories(ctx, pool.ID, "financial_specialist")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, memory.AccessRead, views[0].AccessLevel)
	assert.Equal(t, "shared insight", views[0].Content)

	// Open pool entries are never decided.
	_, err = svc.DecidePoolEntry(ctx, entry.ID, "manager", true)
	assert.ErrorIs(t, err, memory.ErrInvalidState)
}

func TestModeratedPoolRequiresApproval(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "manager", memory.TypeDomainKnowledge,
		"pending insight", memory.ImportanceHigh, memory.ContextRefs{})

	pool, err := svc.CreatePool(ctx, "review-queue",
		[]string{"manager", "financial_specialist"}, nil, memory.PoolModerated, "")
	require.NoError(t, err)

	entry, err := svc.AddToPool(ctx, pool.ID, 1, "manager")
	require.NoError(t, err)
	assert.Equal(t, memory.PoolEntryPending, entry.Status)

	views, err := svc.GetPoolMemories(ctx, pool.ID, "manager")
	require.NoError(t, err)
	assert.Empty(t, views, "pending entries stay invisible")

	// Any participant may decide.
	decided, err := svc.DecidePoolEntry(ctx, entry.ID, "financial_specialist", true)
	require.NoError(t, err)
	assert.Equal(t, memory.PoolEntryActive, decided.Status)

	views, err = svc.GetPoolMemories(ctx, pool.ID, "manager")
	require.NoError(t, err)
	assert.Len(t, views, 1)

	_, err = svc.DecidePoolEntry(ctx, entry.ID, "manager", false)
	assert.ErrorIs(t, err, memory.ErrInvalidState)
}

func TestCuratedPoolOnlyCuratorDecides(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "financial_specialist", memory.TypeDomainKnowledge,
		"curated insight", memory.ImportanceHigh, memory.ContextRefs{})

	pool, err := svc.CreatePool(ctx, "curated",
		[]string{"manager", "financial_specialist"}, nil, memory.PoolCurated, "manager")
	require.NoError(t, err)

	entry, err := svc.AddToPool(ctx, pool.ID, 1, "financial_specialist")
	require.NoError(t, err)
	assert.Equal(t, memory.PoolEntryPending, entry.Status)

	_, err = svc.DecidePoolEntry(ctx, entry.ID, "financial_specialist", true)
	assert.ErrorIs(t, err, memory.ErrUnauthorized)

	decided, err := svc.DecidePoolEntry(ctx, entry.ID, "manager", false)
	require.NoError(t, err)
	assert.Equal(t, memory.PoolEntryRejected, decided.Status)
}

func TestPoolMembershipAndTypeGuards(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()

	seedOwned(t, client, 1, "assistant", memory.TypePreference,
		"off-topic", memory.ImportanceHigh, memory.ContextRefs{})

	pool, err := svc.CreatePool(ctx, "guarded",
		[]string{"manager", "financial_specialist"},
		[]memory.MemoryType{memory.TypeDomainKnowledge}, memory.PoolOpen, "")
	require.NoError(t, err)

	_, err = svc.AddToPool(ctx, pool.ID, 1, "assistant")
	assert.ErrorIs(t, err, memory.ErrUnauthorized, "non-participants may not contribute")

	_, err = svc.AddToPool(ctx, pool.ID, 1, "manager")
	assert.ErrorIs(t, err, memory.ErrUnauthorized, "disallowed memory type")

	_, err = svc.GetPoolMemories(ctx, pool.ID, "assistant")
	assert.ErrorIs(t, err, memory.ErrUnauthorized, "non-participants may not read")
}

func TestCreatePoolValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePool(ctx, "", []string{"manager"}, nil, memory.PoolOpen, "")
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = svc.CreatePool(ctx, "pool", nil, nil, memory.PoolOpen, "")
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = svc.CreatePool(ctx, "pool", []string{"manager"}, nil, memory.PoolCurated, "outsider")
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = svc.CreatePool(ctx, "pool", []string{"manager"}, nil, "anarchic", "")
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = svc.CreatePool(ctx, "pool", []string{"manager"},
		[]memory.MemoryType{"nonsense"}, memory.PoolOpen, "")
	assert.ErrorIs(t, err, memory.ErrValidation)
}
