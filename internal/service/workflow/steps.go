package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
)

// StepFunc is the body of a step. It receives the committed state and
// returns the next state; it must not mutate anything shared, since its
// result is discarded when the step times out.
type StepFunc func(ctx context.Context, env StepEnv) (core.WorkflowState, error)

// StepEnv is what a step body may use.
type StepEnv struct {
	State   core.WorkflowState
	Invoker core.AgentInvoker
	Logger  *logging.Logger
	Now     func() time.Time
	// LastError describes the failure that routed the instance here, if any.
	LastError string
}

func (env StepEnv) invoke(ctx context.Context, agent core.AgentName, request any) (string, error) {
	out, err := env.Invoker.Invoke(ctx, string(env.State.WorkflowID), agent, request)
	if err != nil {
		return "", fmt.Errorf("%s agent: %w", agent, err)
	}
	return out, nil
}

func (env StepEnv) stamp() string {
	return env.Now().Format("15:04:05.000")
}

func (env StepEnv) classification() (core.Classification, error) {
	return core.ParseClassification(env.State.ClassificationJSON)
}

func classifyStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	raw, err := env.invoke(ctx, core.AgentClassifier, core.ClassifyRequest{Incident: st.Incident})
	if err != nil {
		return st, err
	}
	c, err := core.ParseClassification(raw)
	if err != nil {
		return st, err
	}

	env.Logger.Info("classification complete",
		"service", c.Service,
		"severity", string(c.Severity),
		"confidence", c.Confidence)

	entry := fmt.Sprintf("[%s] Classification completed - Service: %s, Severity: %s, Confidence: %.1f",
		env.stamp(), c.Service, c.Severity, c.Confidence)
	return st.WithClassification(raw).
		AddConversation(core.RoleAssistant, entry).
		WithStatus(core.StatusClassified), nil
}

func gatherEvidenceStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	c, err := env.classification()
	if err != nil {
		return st, err
	}
	expr, timeRange := c.EvidenceParams()
	env.Logger.Debug("gathering evidence", "service", c.Service, "metrics", expr, "range", timeRange)

	raw, err := env.invoke(ctx, core.AgentEvidence, core.EvidenceRequest{
		Service:     c.Service,
		MetricsExpr: expr,
		Range:       timeRange,
	})
	if err != nil {
		return st, err
	}
	report := core.ParseEvidence(raw)

	entry := fmt.Sprintf("[%s] Evidence analysis completed - %d key findings identified, Data quality: %.1f",
		env.stamp(), len(report.KeyFindings), report.DataQuality)
	if c.RequiresEscalation() {
		entry += " - ESCALATION RECOMMENDED"
	}
	return st.WithEvidence(report.Logs, report.Metrics).
		AddConversation(core.RoleAssistant, entry).
		WithStatus(core.StatusEvidenceCollected), nil
}

func triageStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	evidence := st.EvidenceLogs
	if evidence == "" {
		evidence = "No evidence collected"
	}
	triageContext := fmt.Sprintf("INCIDENT CONTEXT FOR TRIAGE\n"+
		"===========================\n"+
		"Original Incident: %s\n\n"+
		"Classification Results: %s\n\n"+
		"Evidence Analysis: %s\n\n"+
		"Timestamp: %s",
		st.Incident, st.ClassificationJSON, evidence, env.Now().Format(time.RFC3339))

	raw, err := env.invoke(ctx, core.AgentTriage, core.TriageRequest{Context: triageContext})
	if err != nil {
		return st, err
	}

	entry := fmt.Sprintf("[%s] Triage analysis completed - Analysis confidence: %.1f",
		env.stamp(), core.ParseConfidence(raw, "confidence"))
	return st.WithTriageText(raw).
		AddConversation(core.RoleAssistant, entry).
		WithStatus(core.StatusTriaged), nil
}

func knowledgeBaseStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	c, err := env.classification()
	if err != nil {
		return st, err
	}
	raw, err := env.invoke(ctx, core.AgentKnowledgeBase, core.KnowledgeBaseRequest{Query: c.Service})
	if err != nil {
		return st, err
	}
	return st.WithKnowledgeBaseResult(raw).
		AddConversation(core.RoleAssistant, "Knowledge base search completed.").
		WithStatus(core.StatusKnowledgeBaseSearched), nil
}

func remediateStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	raw, err := env.invoke(ctx, core.AgentRemediation, core.RemediationRequest{
		Incident:            st.Incident,
		ClassificationJSON:  st.ClassificationJSON,
		EvidenceJSON:        core.EvidenceJSON(st.EvidenceLogs, st.EvidenceMetrics),
		TriageText:          st.TriageText,
		KnowledgeBaseResult: st.KnowledgeBaseResult,
	})
	if err != nil {
		return st, err
	}

	plan := core.ParseRemediation(raw)
	env.Logger.Info("remediation plan ready", "risk_level", plan.RiskLevel, "high_risk", plan.HighRisk())

	entry := fmt.Sprintf("[%s] Remediation plan completed - Ready for execution", env.stamp())
	if plan.HighRisk() {
		entry += " - HIGH RISK ACTIONS IDENTIFIED"
	}
	return st.WithRemediationText(raw).
		AddConversation(core.RoleAssistant, entry).
		WithStatus(core.StatusRemediationProposed), nil
}

func summarizeStep(ctx context.Context, env StepEnv) (core.WorkflowState, error) {
	st := env.State
	raw, err := env.invoke(ctx, core.AgentSummary, core.SummaryRequest{
		Incident:           st.Incident,
		ClassificationJSON: st.ClassificationJSON,
		TriageText:         st.TriageText,
		RemediationText:    st.RemediationText,
	})
	if err != nil {
		return st, err
	}

	entry := fmt.Sprintf("[%s] Multi-audience summaries completed - Ready for stakeholder communication", env.stamp())
	return st.WithSummaryText(raw).
		AddConversation(core.RoleAssistant, entry).
		WithStatus(core.StatusSummaryReady), nil
}

func finalizeStep(_ context.Context, env StepEnv) (core.WorkflowState, error) {
	service, severity := "unknown", "unknown"
	if c, err := env.classification(); err == nil {
		service, severity = c.Service, string(c.Severity)
	}
	entry := fmt.Sprintf("[%s] Incident triage workflow completed successfully. Service: %s, Severity: %s, Status: READY FOR ACTION",
		env.stamp(), service, severity)
	return env.State.
		WithStatus(core.StatusCompleted).
		AddConversation(core.RoleSystem, entry), nil
}

func interruptStep(_ context.Context, env StepEnv) (core.WorkflowState, error) {
	entry := fmt.Sprintf("[%s] Workflow interrupted due to error", env.stamp())
	if env.LastError != "" {
		entry += ": " + env.LastError
	}
	return env.State.
		WithStatus(core.StatusInterrupted).
		AddConversation(core.RoleSystem, entry), nil
}
