package testutil

import (
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// NewTestRecord creates a record for a freshly started workflow, positioned
// at classify. Use functional options to override specific fields.
func NewTestRecord(id core.WorkflowID, opts ...func(*core.Record)) *core.Record {
	now := time.Now()
	rec := &core.Record{
		State: core.NewWorkflowState(id, now).
			WithIncident("DB outage: checkout failing").
			AddConversation(core.RoleSystem, "Service triage session started").
			AddConversation(core.RoleUser, "DB outage: checkout failing").
			WithStatus(core.StatusPrepared),
		Step:      core.StepClassify,
		Attempts:  map[core.StepID]int{},
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// AtStep positions a record at step with the given status.
func AtStep(step core.StepID, status core.Status) func(*core.Record) {
	return func(r *core.Record) {
		r.Step = step
		r.State = r.State.WithStatus(status)
	}
}

// Completed marks a record as finished.
func Completed() func(*core.Record) {
	return func(r *core.Record) {
		r.Step = core.StepNone
		r.State = r.State.WithStatus(core.StatusCompleted)
	}
}

// Paused marks a record as paused.
func Paused() func(*core.Record) {
	return func(r *core.Record) { r.Paused = true }
}

// WithOutputs fills every stage output with the canned agent outputs.
func WithOutputs() func(*core.Record) {
	return func(r *core.Record) {
		r.State = r.State.
			WithClassification(ClassificationOutput).
			WithEvidence("db: ERROR too many connections", "errors:rate5m=0.12").
			WithTriageText(TriageOutput).
			WithKnowledgeBaseResult(KnowledgeBaseOutput).
			WithRemediationText(RemediationOutput).
			WithSummaryText(SummaryOutput)
	}
}
