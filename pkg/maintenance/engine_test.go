package maintenance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptek/memoria/pkg/maintenance"
	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/storage/sqlite"
)

func newTestEngine(t *testing.T, now time.Time) (*maintenance.Engine, *sqlite.Client) {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	engine := maintenance.NewEngine(client, client, client, client,
		maintenance.Config{}, func() time.Time { return now }, nil)
	return engine, client
}

func seedLongTerm(t *testing.T, client *sqlite.Client, id int64, strength float64, updatedAt time.Time) {
	t.Helper()
	err := client.InsertLongTerm(context.Background(), &memory.LongTermMemory{
		ID:         id,
		OwnerID:    "agent-1",
		Type:       memory.TypeDomainKnowledge,
		Content:    "entry",
		Importance: memory.ImportanceHigh,
		Strength:   strength,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	})
	require.NoError(t, err)
}

func seedAssociation(t *testing.T, client *sqlite.Client, id, from, to int64, strength float64, at time.Time) {
	t.Helper()
	err := client.UpsertAssociation(context.Background(), &memory.MemoryAssociation{
		ID:               id,
		OwnerID:          "agent-1",
		FromID:           from,
		ToID:             to,
		Type:             memory.AssociationSimilar,
		Strength:         strength,
		Confidence:       strength,
		CreatedAt:        at,
		LastReinforcedAt: at,
		LastDecayedAt:    at,
	})
	require.NoError(t, err)
}

func TestDecaySweepAgesAssociations(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	tenDaysAgo := now.Add(-10 * 24 * time.Hour)
	seedLongTerm(t, client, 1, 0.9, now)
	seedLongTerm(t, client, 2, 0.9, now)
	seedAssociation(t, client, 10, 1, 2, 0.5, tenDaysAgo)

	result, err := engine.DecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssociationsDecayed)
	assert.Equal(t, 0, result.AssociationsRemoved)

	edges, err := client.ListAssociations(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.4, edges[0].Strength, 1e-9, "0.01 per day over ten days")

	// The watermark moved to now, so an immediate re-run changes nothing.
	again, err := engine.DecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.AssociationsDecayed)

	edges, err = client.ListAssociations(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, edges[0].Strength, 1e-9)
}

func TestDecaySweepRemovesFaintAssociations(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	seedLongTerm(t, client, 1, 0.9, now)
	seedLongTerm(t, client, 2, 0.9, now)
	seedAssociation(t, client, 10, 1, 2, 0.15, now.Add(-10*24*time.Hour))

	result, err := engine.DecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssociationsRemoved)

	edges, err := client.ListAssociations(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDecaySweepPrunesOrphanEdges(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	seedLongTerm(t, client, 1, 0.9, now)
	// Endpoint 99 does not exist.
	seedAssociation(t, client, 10, 1, 99, 0.8, now)

	result, err := engine.DecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrphansRemoved)
}

func TestDecaySweepFlagsWeakButNeverDeletes(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	tenDaysAgo := now.Add(-10 * 24 * time.Hour)
	seedLongTerm(t, client, 1, 0.22, tenDaysAgo)
	seedLongTerm(t, client, 2, 0.9, tenDaysAgo)

	result, err := engine.DecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MemoriesDecayed)
	assert.Equal(t, 1, result.MemoriesFlagged)

	weak, err := client.GetLongTerm(ctx, 1)
	require.NoError(t, err)
	assert.True(t, weak.Weak)
	assert.InDelta(t, 0.17, weak.Strength, 1e-9, "0.005 per day over ten days")

	strong, err := client.GetLongTerm(ctx, 2)
	require.NoError(t, err)
	assert.False(t, strong.Weak)
}

func TestRemoveWeakDeletesOnlyFlagged(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	seedLongTerm(t, client, 1, 0.22, now.Add(-10*24*time.Hour))
	seedLongTerm(t, client, 2, 0.9, now)

	_, err := engine.DecaySweep(ctx)
	require.NoError(t, err)

	n, err := engine.RemoveWeak(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = client.GetLongTerm(ctx, 1)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = client.GetLongTerm(ctx, 2)
	assert.NoError(t, err)
}

func TestRemoveDuplicateShortTermKeepsNewest(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	// Same normalized content in two sessions; the unique constraint only
	// sees exact content per session, so both rows exist.
	older := &memory.ShortTermMemory{
		ID: 1, OwnerID: "agent-1", SessionID: "session-1",
		Type: memory.TypePreference, Content: "Prefers   Short Replies",
		Importance: memory.ImportanceMedium, Confidence: 0.8,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(22 * time.Hour),
		LastAccessedAt: now.Add(-2 * time.Hour),
	}
	newer := &memory.ShortTermMemory{
		ID: 2, OwnerID: "agent-1", SessionID: "session-2",
		Type: memory.TypePreference, Content: "prefers short replies",
		Importance: memory.ImportanceMedium, Confidence: 0.8,
		CreatedAt: now.Add(-1 * time.Hour), ExpiresAt: now.Add(23 * time.Hour),
		LastAccessedAt: now.Add(-1 * time.Hour),
	}
	for _, entry := range []*memory.ShortTermMemory{older, newer} {
		_, _, err := client.UpsertShortTerm(ctx, entry)
		require.NoError(t, err)
	}

	removed, err := engine.RemoveDuplicateShortTerm(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = client.GetShortTerm(ctx, 1)
	assert.ErrorIs(t, err, memory.ErrNotFound, "the older duplicate goes")
	_, err = client.GetShortTerm(ctx, 2)
	assert.NoError(t, err)
}

func TestArchiveIdleSessions(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, client.TouchSession(ctx, "agent-1", "stale", now.Add(-40*24*time.Hour)))
	require.NoError(t, client.TouchSession(ctx, "agent-1", "fresh", now.Add(-24*time.Hour)))

	archived, err := engine.ArchiveIdleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	// Archived sessions never reappear in the idle listing.
	archived, err = engine.ArchiveIdleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
}

func TestCycleCombinesSweeps(t *testing.T) {
	now := time.Now().UTC()
	engine, client := newTestEngine(t, now)
	ctx := context.Background()

	expired := &memory.ShortTermMemory{
		ID: 1, OwnerID: "agent-1", SessionID: "session-1",
		Type: memory.TypeConversationContext, Content: "already stale",
		Importance: memory.ImportanceTemporary, Confidence: 0.5,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-30 * time.Minute),
		LastAccessedAt: now.Add(-time.Hour),
	}
	_, _, err := client.UpsertShortTerm(ctx, expired)
	require.NoError(t, err)

	require.NoError(t, client.TouchSession(ctx, "agent-1", "stale", now.Add(-40*24*time.Hour)))

	result := engine.Cycle(ctx)
	assert.Equal(t, 1, result.ExpiredRemoved)
	assert.Equal(t, 1, result.SessionsArchived)
}
