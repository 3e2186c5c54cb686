package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/storage"
	"github.com/synaptek/memoria/pkg/storage/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func shortTermEntry(id int64, content string, now time.Time) *memory.ShortTermMemory {
	return &memory.ShortTermMemory{
		ID:             id,
		OwnerID:        "agent-1",
		SessionID:      "session-1",
		Type:           memory.TypePreference,
		Content:        content,
		Importance:     memory.ImportanceMedium,
		Confidence:     0.8,
		AccessCount:    1,
		LastAccessedAt: now,
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}
}

func longTermEntry(id int64, owner string, now time.Time) *memory.LongTermMemory {
	return &memory.LongTermMemory{
		ID:         id,
		OwnerID:    owner,
		Type:       memory.TypeDomainKnowledge,
		Content:    "some durable fact",
		Importance: memory.ImportanceHigh,
		Strength:   0.9,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestUpsertShortTermMergesDuplicates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := shortTermEntry(1, "likes coffee", now)
	id, merged, err := client.UpsertShortTerm(ctx, first)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, int64(1), id)

	// Same key, higher importance, lower confidence.
	second := shortTermEntry(2, "likes coffee", now.Add(time.Minute))
	second.Importance = memory.ImportanceHigh
	second.Confidence = 0.5
	second.ExpiresAt = now.Add(7 * 24 * time.Hour)
	second.ShouldConsolidate = true

	id, merged, err = client.UpsertShortTerm(ctx, second)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, int64(1), id, "merge must keep the existing id")

	stored, err := client.GetShortTerm(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AccessCount)
	assert.Equal(t, 0.8, stored.Confidence, "confidence keeps the maximum")
	assert.Equal(t, memory.ImportanceHigh, stored.Importance)
	assert.True(t, stored.ShouldConsolidate)
}

func TestUpsertShortTermDistinctSessionsStaySeparate(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := shortTermEntry(1, "likes coffee", now)
	b := shortTermEntry(2, "likes coffee", now)
	b.SessionID = "session-2"

	_, merged, err := client.UpsertShortTerm(ctx, a)
	require.NoError(t, err)
	assert.False(t, merged)
	_, merged, err = client.UpsertShortTerm(ctx, b)
	require.NoError(t, err)
	assert.False(t, merged)

	entries, err := client.ListShortTerm(ctx, &storage.ShortTermQuery{OwnerID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGetShortTermNotFound(t *testing.T) {
	client := newTestClient(t)
	_, err := client.GetShortTerm(context.Background(), 42)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDeleteExpiredShortTermIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := shortTermEntry(1, "old", now.Add(-2*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	fresh := shortTermEntry(2, "new", now)

	_, _, err := client.UpsertShortTerm(ctx, expired)
	require.NoError(t, err)
	_, _, err = client.UpsertShortTerm(ctx, fresh)
	require.NoError(t, err)

	n, err := client.DeleteExpiredShortTerm(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second run over the same instant removes nothing.
	n, err = client.DeleteExpiredShortTerm(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = client.GetShortTerm(ctx, 2)
	assert.NoError(t, err)
}

func TestListShortTermFlaggedOnly(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	flagged := shortTermEntry(1, "important", now)
	flagged.ShouldConsolidate = true
	plain := shortTermEntry(2, "ordinary", now)

	_, _, err := client.UpsertShortTerm(ctx, flagged)
	require.NoError(t, err)
	_, _, err = client.UpsertShortTerm(ctx, plain)
	require.NoError(t, err)

	entries, err := client.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID:     "agent-1",
		FlaggedOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)

	require.NoError(t, client.ClearConsolidationFlags(ctx, []int64{1}))
	entries, err = client.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID:     "agent-1",
		FlaggedOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLongTermRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := longTermEntry(10, "agent-1", now)
	entry.Summary = "a fact"
	entry.Keywords = []string{"durable", "fact"}
	entry.Embedding = []float64{0.1, 0.2, 0.3}
	entry.Context = memory.ContextRefs{ContractID: "C-1"}
	require.NoError(t, client.InsertLongTerm(ctx, entry))

	stored, err := client.GetLongTerm(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, entry.Content, stored.Content)
	assert.Equal(t, entry.Keywords, stored.Keywords)
	assert.Equal(t, entry.Embedding, stored.Embedding)
	assert.Equal(t, "C-1", stored.Context.ContractID)
}

func TestListLongTermFilters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := longTermEntry(1, "agent-1", now.Add(-48*time.Hour))
	recent := longTermEntry(2, "agent-1", now)
	weak := longTermEntry(3, "agent-1", now)
	weak.Weak = true
	weak.Strength = 0.1
	other := longTermEntry(4, "agent-2", now)

	for _, e := range []*memory.LongTermMemory{old, recent, weak, other} {
		require.NoError(t, client.InsertLongTerm(ctx, e))
	}

	entries, err := client.ListLongTerm(ctx, &storage.LongTermQuery{OwnerID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = client.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID:      "agent-1",
		CreatedAfter: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = client.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID:  "agent-1",
		WeakOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ID)

	entries, err = client.ListLongTerm(ctx, &storage.LongTermQuery{
		OwnerID:          "agent-1",
		MissingEmbedding: true,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 3, "none of the fixtures carries an embedding")
}

func TestDeleteWeakLongTerm(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	strong := longTermEntry(1, "agent-1", now)
	weak := longTermEntry(2, "agent-1", now)
	weak.Weak = true

	require.NoError(t, client.InsertLongTerm(ctx, strong))
	require.NoError(t, client.InsertLongTerm(ctx, weak))

	n, err := client.DeleteWeakLongTerm(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = client.GetLongTerm(ctx, 1)
	assert.NoError(t, err)
	_, err = client.GetLongTerm(ctx, 2)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestUpsertAssociationReinforces(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	edge := &memory.MemoryAssociation{
		ID: 1, OwnerID: "agent-1", FromID: 10, ToID: 11,
		Type: memory.AssociationSimilar, Strength: 0.6, Confidence: 0.6,
		CreatedAt: now, LastReinforcedAt: now, LastDecayedAt: now,
	}
	require.NoError(t, client.UpsertAssociation(ctx, edge))

	// Reversed direction still hits the same edge; strength keeps the max.
	reinforced := &memory.MemoryAssociation{
		ID: 2, OwnerID: "agent-1", FromID: 11, ToID: 10,
		Type: memory.AssociationSimilar, Strength: 0.4, Confidence: 0.9,
		CreatedAt: now, LastReinforcedAt: now.Add(time.Hour), LastDecayedAt: now.Add(time.Hour),
	}
	require.NoError(t, client.UpsertAssociation(ctx, reinforced))

	edges, err := client.ListAssociationsFor(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].ID)
	assert.Equal(t, 0.6, edges[0].Strength)
	assert.Equal(t, 0.9, edges[0].Confidence)
}

func TestDeleteOrphanAssociations(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.InsertLongTerm(ctx, longTermEntry(10, "agent-1", now)))
	require.NoError(t, client.InsertLongTerm(ctx, longTermEntry(11, "agent-1", now)))

	intact := &memory.MemoryAssociation{
		ID: 1, OwnerID: "agent-1", FromID: 10, ToID: 11,
		Type: memory.AssociationSimilar, Strength: 0.5, Confidence: 0.5,
		CreatedAt: now, LastReinforcedAt: now, LastDecayedAt: now,
	}
	orphan := &memory.MemoryAssociation{
		ID: 2, OwnerID: "agent-1", FromID: 10, ToID: 999,
		Type: memory.AssociationSimilar, Strength: 0.5, Confidence: 0.5,
		CreatedAt: now, LastReinforcedAt: now, LastDecayedAt: now,
	}
	require.NoError(t, client.UpsertAssociation(ctx, intact))
	require.NoError(t, client.UpsertAssociation(ctx, orphan))

	n, err := client.DeleteOrphanAssociations(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edges, err := client.ListAssociations(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].ID)
}

func TestDecideAccessRequestGuarded(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := &memory.AccessRequest{
		ID: 1, MemoryID: 10, RequestingAgent: "assistant", OwnerAgent: "manager",
		RequestedLevel: memory.AccessRead, Status: memory.RequestPending, RequestedAt: now,
	}
	require.NoError(t, client.InsertAccessRequest(ctx, req))

	require.NoError(t, client.DecideAccessRequest(ctx, 1, memory.RequestApproved, "manager", "ok", now))

	// The second decision hits a non-pending request.
	err := client.DecideAccessRequest(ctx, 1, memory.RequestDenied, "manager", "no", now)
	assert.ErrorIs(t, err, memory.ErrInvalidState)

	stored, err := client.GetAccessRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, memory.RequestApproved, stored.Status)
	assert.Equal(t, "manager", stored.DecidedBy)
	require.NotNil(t, stored.DecidedAt)
}

func TestMarkJobRunningGuarded(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &memory.ConsolidationJob{
		ID: 1, OwnerID: "agent-1", MemoryIDs: []int64{10, 11},
		Status: memory.JobPending, CreatedAt: now,
	}
	require.NoError(t, client.InsertConsolidationJob(ctx, job))

	require.NoError(t, client.MarkJobRunning(ctx, 1))
	assert.ErrorIs(t, client.MarkJobRunning(ctx, 1), memory.ErrInvalidState)

	job.Status = memory.JobCompleted
	job.Processed = 2
	finished := now.Add(time.Second)
	job.FinishedAt = &finished
	require.NoError(t, client.FinishJob(ctx, job))

	stored, err := client.GetConsolidationJob(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, memory.JobCompleted, stored.Status)
	assert.Equal(t, []int64{10, 11}, stored.MemoryIDs)
	assert.Equal(t, 2, stored.Processed)
}

func TestPoolContributionCounter(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pool := &memory.MemoryPool{
		ID: 1, Name: "shared", Participants: []string{"a", "b"},
		AllowedTypes: []memory.MemoryType{memory.TypeDomainKnowledge},
		Policy:       memory.PoolOpen, Contributions: map[string]int{}, CreatedAt: now,
	}
	require.NoError(t, client.InsertPool(ctx, pool))

	require.NoError(t, client.AddPoolContribution(ctx, 1, "a"))
	require.NoError(t, client.AddPoolContribution(ctx, 1, "a"))
	require.NoError(t, client.AddPoolContribution(ctx, 1, "b"))

	stored, err := client.GetPool(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Contributions["a"])
	assert.Equal(t, 1, stored.Contributions["b"])
}

func TestDecidePoolEntryGuarded(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &memory.MemoryPoolEntry{
		ID: 1, PoolID: 1, MemoryID: 10, Contributor: "a",
		Status: memory.PoolEntryPending, AddedAt: now,
	}
	require.NoError(t, client.InsertPoolEntry(ctx, entry))

	require.NoError(t, client.DecidePoolEntry(ctx, 1, memory.PoolEntryActive))
	assert.ErrorIs(t, client.DecidePoolEntry(ctx, 1, memory.PoolEntryRejected), memory.ErrInvalidState)

	entries, err := client.ListPoolEntries(ctx, 1, memory.PoolEntryActive)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTouchSessionArchivedIsTerminal(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.TouchSession(ctx, "agent-1", "session-1", now))
	require.NoError(t, client.ArchiveSession(ctx, "agent-1", "session-1"))

	// A later touch must not reactivate the archived session.
	require.NoError(t, client.TouchSession(ctx, "agent-1", "session-1", now.Add(time.Hour)))

	idle, err := client.ListIdleSessions(ctx, now.Add(48*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, idle, "archived sessions never appear as idle")
}

func TestListIdleSessions(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.TouchSession(ctx, "agent-1", "stale", now.Add(-72*time.Hour)))
	require.NoError(t, client.TouchSession(ctx, "agent-1", "fresh", now))

	idle, err := client.ListIdleSessions(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "stale", idle[0].SessionID)
}
