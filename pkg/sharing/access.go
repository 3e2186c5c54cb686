package sharing

import (
	"time"

	"github.com/synaptek/memoria/pkg/memory"
)

// SharedView is the recipient-facing projection of a long-term memory.
// Which fields are populated depends on the access level the view was
// projected at; absent fields are zero.
type SharedView struct {
	MemoryID    int64              `json:"memory_id"`
	Type        memory.MemoryType  `json:"type"`
	Importance  memory.Importance  `json:"importance"`
	AccessLevel memory.AccessLevel `json:"access_level"`
	Strength    float64            `json:"strength"`
	CreatedAt   time.Time          `json:"created_at"`

	// Populated at summary level and above.
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	// Populated at read level and above.
	Content string             `json:"content,omitempty"`
	Context memory.ContextRefs `json:"context,omitempty"`

	// Populated only at full level.
	Embedding []float64 `json:"embedding,omitempty"`
}

// Project builds the view of m visible at the given access level.
//
// The lattice narrows strictly:
//   - metadata: id, type, importance, strength, creation time
//   - summary:  metadata plus summary text and keywords
//   - read:     summary plus full content and context references
//   - full:     everything, including the embedding
//
// Projection happens at read time, never at share time, so a record stored
// at one level always reflects the current memory.
func Project(m *memory.LongTermMemory, level memory.AccessLevel) *SharedView {
	view := &SharedView{
		MemoryID:    m.ID,
		Type:        m.Type,
		Importance:  m.Importance,
		AccessLevel: level,
		Strength:    m.Strength,
		CreatedAt:   m.CreatedAt,
	}

	if level.Rank() >= memory.AccessSummary.Rank() {
		view.Summary = m.Summary
		view.Keywords = m.Keywords
	}
	if level.Rank() >= memory.AccessRead.Rank() {
		view.Content = m.Content
		view.Context = m.Context
	}
	if level == memory.AccessFull {
		view.Embedding = m.Embedding
	}
	return view
}

// effectiveLevel resolves the level granted on a memory. An empty requested
// level falls back to the recipient profile's default. Critical memories cap
// the level at read for every recipient whose profile default is not full;
// the cap only ever lowers a level, so summary and metadata grants pass
// through unchanged.
func effectiveLevel(m *memory.LongTermMemory, requested memory.AccessLevel, profileLevel memory.AccessLevel) memory.AccessLevel {
	level := requested
	if level == "" {
		level = profileLevel
	}
	if m.Importance == memory.ImportanceCritical &&
		profileLevel != memory.AccessFull &&
		level.Rank() > memory.AccessRead.Rank() {
		level = memory.AccessRead
	}
	return level
}
