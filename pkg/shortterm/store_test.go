package shortterm_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/shortterm"
	"github.com/synaptek/memoria/pkg/storage/sqlite"
)

func newTestStore(t *testing.T, now func() time.Time) (*shortterm.Store, *sqlite.Client) {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return shortterm.NewStore(client, client, node, now, nil), client
}

func writeRequest(content string, importance memory.Importance) *shortterm.WriteRequest {
	return &shortterm.WriteRequest{
		OwnerID:    "agent-1",
		SessionID:  "session-1",
		Type:       memory.TypePreference,
		Content:    content,
		Importance: importance,
		Confidence: 0.7,
	}
}

func TestWriteComputesExpiryFromImportance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	cases := []struct {
		importance memory.Importance
		want       time.Duration
	}{
		{memory.ImportanceCritical, 365 * 24 * time.Hour},
		{memory.ImportanceHigh, 7 * 24 * time.Hour},
		{memory.ImportanceMedium, 24 * time.Hour},
		{memory.ImportanceLow, 4 * time.Hour},
		{memory.ImportanceTemporary, 30 * time.Minute},
	}
	for _, tc := range cases {
		result, err := store.Write(ctx, writeRequest("observation for "+string(tc.importance), tc.importance))
		require.NoError(t, err)
		assert.Equal(t, now.Add(tc.want), result.ExpiresAt,
			"expiry for %s importance", tc.importance)
	}
}

func TestWriteMergesDuplicate(t *testing.T) {
	now := time.Now().UTC()
	store, _ := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	first, err := store.Write(ctx, writeRequest("likes coffee", memory.ImportanceMedium))
	require.NoError(t, err)
	assert.False(t, first.Merged)

	repeat := writeRequest("likes coffee", memory.ImportanceHigh)
	repeat.Confidence = 0.4
	second, err := store.Write(ctx, repeat)
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.ID, second.ID)

	entries, err := store.List(ctx, "agent-1", "session-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "merge must not create a second record")
	assert.Equal(t, 2, entries[0].AccessCount)
	assert.Equal(t, 0.7, entries[0].Confidence, "merge keeps the higher confidence")
	assert.Equal(t, memory.ImportanceHigh, entries[0].Importance)
	assert.True(t, entries[0].ShouldConsolidate, "importance replacement recomputes the flag")
}

func TestWriteValidation(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	cases := []*shortterm.WriteRequest{
		nil,
		{SessionID: "s", Type: memory.TypePreference, Content: "x", Importance: memory.ImportanceLow, Confidence: 1},
		{OwnerID: "o", Type: memory.TypePreference, Content: "x", Importance: memory.ImportanceLow, Confidence: 1},
		{OwnerID: "o", SessionID: "s", Type: memory.TypePreference, Content: "   ", Importance: memory.ImportanceLow, Confidence: 1},
		{OwnerID: "o", SessionID: "s", Type: "bogus", Content: "x", Importance: memory.ImportanceLow, Confidence: 1},
		{OwnerID: "o", SessionID: "s", Type: memory.TypePreference, Content: "x", Confidence: 1},
		{OwnerID: "o", SessionID: "s", Type: memory.TypePreference, Content: "x", Importance: memory.ImportanceLow, Confidence: 1.5},
	}
	for i, req := range cases {
		_, err := store.Write(ctx, req)
		assert.ErrorIs(t, err, memory.ErrValidation, "case %d", i)
	}
}

func TestFlaggedListsOnlyConsolidationCandidates(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Write(ctx, writeRequest("critical insight", memory.ImportanceCritical))
	require.NoError(t, err)
	_, err = store.Write(ctx, writeRequest("passing remark", memory.ImportanceLow))
	require.NoError(t, err)

	flagged, err := store.Flagged(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "critical insight", flagged[0].Content)
}

func TestCleanupExpired(t *testing.T) {
	current := time.Now().UTC()
	store, _ := newTestStore(t, func() time.Time { return current })
	ctx := context.Background()

	_, err := store.Write(ctx, writeRequest("fleeting", memory.ImportanceTemporary))
	require.NoError(t, err)
	_, err = store.Write(ctx, writeRequest("durable", memory.ImportanceHigh))
	require.NoError(t, err)

	// Move past the temporary window but not the high one.
	current = current.Add(time.Hour)

	n, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "cleanup is idempotent")

	entries, err := store.List(ctx, "agent-1", "session-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "durable", entries[0].Content)
}

func TestGetBumpsAccessCount(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	result, err := store.Write(ctx, writeRequest("observed once", memory.ImportanceMedium))
	require.NoError(t, err)

	entry, err := store.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AccessCount, "the bump lands after the read")

	entry, err = store.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AccessCount)
}

func TestListExcludesArchivedSessions(t *testing.T) {
	now := time.Now().UTC()
	store, client := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	_, err := store.Write(ctx, writeRequest("session one note", memory.ImportanceMedium))
	require.NoError(t, err)

	other := writeRequest("session two note", memory.ImportanceMedium)
	other.SessionID = "session-2"
	_, err = store.Write(ctx, other)
	require.NoError(t, err)

	require.NoError(t, client.ArchiveSession(ctx, "agent-1", "session-1"))

	entries, err := store.List(ctx, "agent-1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session two note", entries[0].Content)
}
