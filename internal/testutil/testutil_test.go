package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

func TestScrubOutput(t *testing.T) {
	t.Parallel()
	in := "Updated     2026-01-02T03:04:05.123+02:00  \r\n" +
		"3f2b8c1e-4a5d-4e6f-8a9b-0c1d2e3f4a5b  COMPLETED  2026-01-02 03:04\n" +
		"state in /tmp/x/state.db\n\n"
	want := "Updated     [TIME]\n[UUID]  COMPLETED  [TIME]\nstate in [WORKDIR]/state.db"
	assert.Equal(t, want, ScrubOutput(in, "/tmp/x"))
}

func TestMockInvoker_Scripting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	m := NewMockInvoker().FailTimes(core.AgentClassifier, 1, boom)

	_, err := m.Invoke(ctx, "wf", core.AgentClassifier, core.ClassifyRequest{})
	assert.ErrorIs(t, err, boom)

	out, err := m.Invoke(ctx, "wf", core.AgentClassifier, core.ClassifyRequest{})
	require.NoError(t, err)
	assert.Equal(t, ClassificationOutput, out)

	out, err = m.Invoke(ctx, "wf", core.AgentSummary, core.SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, SummaryOutput, out)

	assert.Equal(t, 2, m.CallCount(core.AgentClassifier))
	assert.Equal(t, []core.AgentName{core.AgentClassifier, core.AgentClassifier, core.AgentSummary}, m.Agents())
	assert.Equal(t, "wf", m.Calls()[0].SessionID)

	m.Reset()
	assert.Empty(t, m.Calls())
}

func TestNewTestRecord(t *testing.T) {
	t.Parallel()
	rec := NewTestRecord("wf-1", AtStep(core.StepTriage, core.StatusEvidenceCollected), Paused())

	assert.Equal(t, core.WorkflowID("wf-1"), rec.ID())
	assert.Equal(t, core.StepTriage, rec.Step)
	assert.Equal(t, core.StatusEvidenceCollected, rec.State.Status)
	assert.True(t, rec.Paused)
	assert.Len(t, rec.State.Conversation, 2)

	assert.True(t, NewTestRecord("wf-2", Completed()).Ended())
}
