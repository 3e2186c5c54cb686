package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synaptek/memoria/pkg/memory"
)

func TestWriteOptionDefaults(t *testing.T) {
	opts := applyWriteOptions(nil)
	assert.Equal(t, memory.ImportanceMedium, opts.Importance)
	assert.Equal(t, 1.0, opts.Confidence)
	assert.Empty(t, opts.Source)
	assert.Nil(t, opts.Payload)
}

func TestWriteOptionSetters(t *testing.T) {
	opts := applyWriteOptions([]WriteOption{
		WithImportance(memory.ImportanceCritical),
		WithConfidence(0.42),
		WithContext(memory.ContextRefs{ContractID: "C-7"}),
		WithPayload(map[string]interface{}{"turns": 3}),
		WithSource("task_execution"),
	})
	assert.Equal(t, memory.ImportanceCritical, opts.Importance)
	assert.Equal(t, 0.42, opts.Confidence)
	assert.Equal(t, "C-7", opts.Context.ContractID)
	assert.Equal(t, 3, opts.Payload["turns"])
	assert.Equal(t, "task_execution", opts.Source)
}
