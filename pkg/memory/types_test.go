package memory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synaptek/memoria/pkg/memory"
)

func TestImportanceTTLOrdering(t *testing.T) {
	// The retention windows must be strictly ordered by tier.
	tiers := []memory.Importance{
		memory.ImportanceTemporary,
		memory.ImportanceLow,
		memory.ImportanceMedium,
		memory.ImportanceHigh,
		memory.ImportanceCritical,
	}
	for i := 1; i < len(tiers); i++ {
		assert.Greater(t, tiers[i].TTL(), tiers[i-1].TTL(),
			"%s must outlive %s", tiers[i], tiers[i-1])
	}
}

func TestImportanceTTLUnknownTier(t *testing.T) {
	unknown := memory.Importance("bogus")
	assert.Equal(t, memory.ImportanceTemporary.TTL(), unknown.TTL())
}

func TestShouldConsolidate(t *testing.T) {
	assert.True(t, memory.ImportanceCritical.ShouldConsolidate())
	assert.True(t, memory.ImportanceHigh.ShouldConsolidate())
	assert.False(t, memory.ImportanceMedium.ShouldConsolidate())
	assert.False(t, memory.ImportanceLow.ShouldConsolidate())
	assert.False(t, memory.ImportanceTemporary.ShouldConsolidate())
}

func TestMaxImportance(t *testing.T) {
	assert.Equal(t, memory.ImportanceCritical,
		memory.MaxImportance(memory.ImportanceLow, memory.ImportanceCritical))
	assert.Equal(t, memory.ImportanceHigh,
		memory.MaxImportance(memory.ImportanceHigh, memory.ImportanceMedium))
	assert.Equal(t, memory.ImportanceMedium,
		memory.MaxImportance(memory.ImportanceMedium, memory.ImportanceMedium))
}

func TestAccessLevelLattice(t *testing.T) {
	assert.True(t, memory.AccessMetadata.Within(memory.AccessFull))
	assert.True(t, memory.AccessRead.Within(memory.AccessRead))
	assert.False(t, memory.AccessFull.Within(memory.AccessRead))
	assert.False(t, memory.AccessRead.Within(memory.AccessSummary))

	assert.Greater(t, memory.AccessFull.Rank(), memory.AccessRead.Rank())
	assert.Greater(t, memory.AccessRead.Rank(), memory.AccessSummary.Rank())
	assert.Greater(t, memory.AccessSummary.Rank(), memory.AccessMetadata.Rank())
	assert.Equal(t, 0, memory.AccessLevel("bogus").Rank())
}

func TestValidMemoryType(t *testing.T) {
	assert.True(t, memory.ValidMemoryType(memory.TypePreference))
	assert.True(t, memory.ValidMemoryType(memory.TypeProcessKnowledge))
	assert.False(t, memory.ValidMemoryType(memory.MemoryType("nonsense")))
}

func TestEngineErrorWrapping(t *testing.T) {
	err := memory.NewEngineError("ShareMemory", memory.ErrUnauthorized)
	assert.EqualError(t, err, "memoria: ShareMemory: unauthorized")
	assert.True(t, errors.Is(err, memory.ErrUnauthorized))

	var engineErr *memory.EngineError
	assert.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "ShareMemory", engineErr.Op)

	assert.NoError(t, memory.NewEngineError("Anything", nil))
}
