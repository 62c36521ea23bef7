package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/testutil"
)

func testEnv(st core.WorkflowState, inv core.AgentInvoker) StepEnv {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return StepEnv{
		State:   st,
		Invoker: inv,
		Logger:  logging.NewNop(),
		Now:     func() time.Time { return fixed },
	}
}

func lastEntry(st core.WorkflowState) core.ConversationEntry {
	return st.Conversation[len(st.Conversation)-1]
}

func TestGatherEvidenceStep_P1UsesShortWindowAndEscalates(t *testing.T) {
	t.Parallel()
	inv := testutil.NewMockInvoker()
	st := testutil.NewTestRecord("wf-p1").State.
		WithClassification(`{"service":"payment-service","severity":"P1"}`).
		WithStatus(core.StatusClassified)

	out, err := gatherEvidenceStep(context.Background(), testEnv(st, inv))
	require.NoError(t, err)

	req := inv.Calls()[0].Request.(core.EvidenceRequest)
	assert.Equal(t, core.EvidenceRequest{Service: "payment-service", MetricsExpr: "errors:rate1m", Range: "30m"}, req)
	assert.Equal(t, core.StatusEvidenceCollected, out.Status)
	assert.Equal(t, "[09:26:53.000] Evidence analysis completed - 1 key findings identified, Data quality: 7.0 - ESCALATION RECOMMENDED",
		lastEntry(out).Content)
	assert.Len(t, st.Conversation, 2, "input state must not change")
}

func TestRemediateStep_FlagsHighRisk(t *testing.T) {
	t.Parallel()
	inv := testutil.NewMockInvoker().Respond(core.AgentRemediation, `{"risk_level":"HIGH","actions":["failover primary"]}`)
	st := testutil.NewTestRecord("wf-risk").State.WithStatus(core.StatusKnowledgeBaseSearched)

	out, err := remediateStep(context.Background(), testEnv(st, inv))
	require.NoError(t, err)
	assert.Equal(t, core.StatusRemediationProposed, out.Status)
	assert.Contains(t, lastEntry(out).Content, "Ready for execution - HIGH RISK ACTIONS IDENTIFIED")
}

func TestStepErrorsLeaveStateUntouched(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	inv := testutil.NewMockInvoker().Fail(core.AgentTriage, boom)
	st := testutil.NewTestRecord("wf-err").State.WithStatus(core.StatusEvidenceCollected)

	out, err := triageStep(context.Background(), testEnv(st, inv))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "triage agent")
	assert.Equal(t, st, out)
}

func TestKnowledgeBaseStep_RequiresClassification(t *testing.T) {
	t.Parallel()
	inv := testutil.NewMockInvoker()
	st := testutil.NewTestRecord("wf-kb").State.WithStatus(core.StatusTriaged)

	_, err := knowledgeBaseStep(context.Background(), testEnv(st, inv))
	assert.True(t, core.IsCategory(err, core.ErrCatParse))
	assert.Zero(t, inv.CallCount(core.AgentKnowledgeBase))
}

func TestTerminalSteps(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestRecord("wf-end").State.WithStatus(core.StatusSummaryReady)

	done, err := finalizeStep(context.Background(), testEnv(st, nil))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, done.Status)
	assert.Equal(t, "[09:26:53.000] Incident triage workflow completed successfully. Service: unknown, Severity: unknown, Status: READY FOR ACTION",
		lastEntry(done).Content)

	env := testEnv(st, nil)
	env.LastError = "step summarize exhausted recovery"
	stopped, err := interruptStep(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInterrupted, stopped.Status)
	assert.Equal(t, core.RoleSystem, lastEntry(stopped).Role)
	assert.Equal(t, "[09:26:53.000] Workflow interrupted due to error: step summarize exhausted recovery", lastEntry(stopped).Content)
}
