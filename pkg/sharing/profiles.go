// Package sharing implements the cross-agent sharing and access-control
// layer: capability profiles, access-level projection, broadcast, access
// requests, knowledge sync, and memory pools.
package sharing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptek/memoria/pkg/memory"
)

// ManagerRole is the agent type that always receives selective broadcasts
// of critical and high importance memories.
const ManagerRole = "manager"

// AgentProfile declares one agent role's memory capabilities.
//
// Needs lists the memory types the agent may receive; Provides lists the
// types it emits. DefaultAccessLevel is the level applied when sharing to
// this agent without an explicit level, and the upper bound for
// auto-approved access requests.
type AgentProfile struct {
	AgentType          string              `yaml:"agent_type"`
	Needs              []memory.MemoryType `yaml:"needs"`
	Provides           []memory.MemoryType `yaml:"provides"`
	DefaultAccessLevel memory.AccessLevel  `yaml:"default_access_level"`

	// Keywords routes selective broadcasts: a memory whose content
	// mentions any keyword is offered to this agent.
	Keywords []string `yaml:"keywords,omitempty"`

	// Entities routes need-to-know broadcasts: "contract" and "vendor"
	// select this agent when the memory's context references such an
	// entity.
	Entities []string `yaml:"entities,omitempty"`
}

// NeedsType reports whether the profile may receive the given memory type.
func (p *AgentProfile) NeedsType(t memory.MemoryType) bool {
	for _, need := range p.Needs {
		if need == t {
			return true
		}
	}
	return false
}

// ProvidesType reports whether the profile emits the given memory type.
func (p *AgentProfile) ProvidesType(t memory.MemoryType) bool {
	for _, prov := range p.Provides {
		if prov == t {
			return true
		}
	}
	return false
}

func (p *AgentProfile) handlesEntity(entity string) bool {
	for _, e := range p.Entities {
		if e == entity {
			return true
		}
	}
	return false
}

func (p *AgentProfile) matchesContent(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ProfileTable is the loaded policy table of agent capability profiles.
// It is configuration data, not compiled-in policy: operators can adjust
// capability sets via the YAML profile file without a rebuild.
type ProfileTable struct {
	profiles map[string]*AgentProfile
}

// NewProfileTable builds a table from explicit profiles.
func NewProfileTable(profiles []*AgentProfile) *ProfileTable {
	t := &ProfileTable{profiles: make(map[string]*AgentProfile, len(profiles))}
	for _, p := range profiles {
		t.profiles[p.AgentType] = p
	}
	return t
}

// LoadProfileTable reads a YAML profile file of the form:
//
//	profiles:
//	  - agent_type: manager
//	    needs: [domain_knowledge, task_history]
//	    provides: [process_knowledge]
//	    default_access_level: full
func LoadProfileTable(path string) (*ProfileTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadProfileTable: %w", err)
	}

	var doc struct {
		Profiles []*AgentProfile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("LoadProfileTable: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("LoadProfileTable: %w: no profiles defined", memory.ErrValidation)
	}

	for _, p := range doc.Profiles {
		if p.AgentType == "" || p.DefaultAccessLevel.Rank() == 0 {
			return nil, fmt.Errorf("LoadProfileTable: %w: profile missing agent_type or access level", memory.ErrValidation)
		}
	}
	return NewProfileTable(doc.Profiles), nil
}

// Get returns the profile for an agent type, or memory.ErrNotFound.
func (t *ProfileTable) Get(agentType string) (*AgentProfile, error) {
	p, ok := t.profiles[agentType]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return p, nil
}

// All returns every profile in the table.
func (t *ProfileTable) All() []*AgentProfile {
	out := make([]*AgentProfile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, p)
	}
	return out
}

// DefaultProfileTable returns the built-in capability table used when no
// profile file is configured. It mirrors the roles of the contract
// management agent fleet.
func DefaultProfileTable() *ProfileTable {
	allTypes := []memory.MemoryType{
		memory.TypePreference, memory.TypeInteractionPattern,
		memory.TypeDomainKnowledge, memory.TypeConversationContext,
		memory.TypeTaskHistory, memory.TypeFeedback,
		memory.TypeEntityRelation, memory.TypeProcessKnowledge,
	}

	return NewProfileTable([]*AgentProfile{
		{
			AgentType:          ManagerRole,
			Needs:              allTypes,
			Provides:           []memory.MemoryType{memory.TypeProcessKnowledge, memory.TypeTaskHistory},
			DefaultAccessLevel: memory.AccessFull,
			Entities:           []string{"contract", "vendor"},
		},
		{
			AgentType: "financial_specialist",
			Needs: []memory.MemoryType{
				memory.TypeDomainKnowledge, memory.TypeEntityRelation,
				memory.TypeTaskHistory, memory.TypeProcessKnowledge,
			},
			Provides:           []memory.MemoryType{memory.TypeDomainKnowledge, memory.TypeEntityRelation},
			DefaultAccessLevel: memory.AccessRead,
			Keywords:           []string{"financial", "budget", "cost", "payment", "invoice", "price"},
			Entities:           []string{"contract"},
		},
		{
			AgentType: "legal_specialist",
			Needs: []memory.MemoryType{
				memory.TypeDomainKnowledge, memory.TypeEntityRelation,
				memory.TypeProcessKnowledge,
			},
			Provides:           []memory.MemoryType{memory.TypeDomainKnowledge},
			DefaultAccessLevel: memory.AccessRead,
			Keywords:           []string{"legal", "clause", "compliance", "liability", "terms"},
			Entities:           []string{"contract"},
		},
		{
			AgentType: "procurement_specialist",
			Needs: []memory.MemoryType{
				memory.TypeDomainKnowledge, memory.TypeEntityRelation,
				memory.TypeTaskHistory,
			},
			Provides:           []memory.MemoryType{memory.TypeEntityRelation, memory.TypeTaskHistory},
			DefaultAccessLevel: memory.AccessRead,
			Keywords:           []string{"vendor", "supplier", "procurement", "delivery", "order"},
			Entities:           []string{"vendor"},
		},
		{
			AgentType: "analytics_specialist",
			Needs: []memory.MemoryType{
				memory.TypeDomainKnowledge, memory.TypeInteractionPattern,
				memory.TypeTaskHistory, memory.TypeFeedback,
			},
			Provides:           []memory.MemoryType{memory.TypeDomainKnowledge, memory.TypeInteractionPattern},
			DefaultAccessLevel: memory.AccessSummary,
			Keywords:           []string{"report", "trend", "metric", "analysis"},
		},
		{
			AgentType: "assistant",
			Needs: []memory.MemoryType{
				memory.TypePreference, memory.TypeConversationContext,
				memory.TypeInteractionPattern, memory.TypeFeedback,
			},
			Provides: []memory.MemoryType{
				memory.TypePreference, memory.TypeConversationContext,
				memory.TypeInteractionPattern, memory.TypeFeedback,
				memory.TypeDomainKnowledge, memory.TypeTaskHistory,
				memory.TypeEntityRelation,
			},
			DefaultAccessLevel: memory.AccessRead,
		},
	})
}
