package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepID_NamesRoundTrip(t *testing.T) {
	for i := 0; i < NumSteps; i++ {
		id := StepID(i)
		parsed, err := ParseStepID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	_, err := ParseStepID("deploy")
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))

	assert.Equal(t, "step(42)", StepID(42).String())
	_, err = StepID(42).MarshalText()
	assert.Error(t, err)
}

func TestStepID_Predicates(t *testing.T) {
	assert.False(t, StepNone.Valid())
	assert.True(t, StepClassify.Valid())
	assert.True(t, StepInterrupt.Valid())
	assert.False(t, StepID(NumSteps).Valid())

	assert.True(t, StepFinalize.IsTerminal())
	assert.True(t, StepInterrupt.IsTerminal())
	assert.False(t, StepSummarize.IsTerminal())
}

func TestPipelineOrder(t *testing.T) {
	assert.Equal(t, []StepID{
		StepClassify,
		StepGatherEvidence,
		StepTriage,
		StepQueryKnowledgeBase,
		StepRemediate,
		StepSummarize,
		StepFinalize,
	}, PipelineOrder())
}
