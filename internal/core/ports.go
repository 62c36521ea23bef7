package core

import (
	"context"
	"time"
)

// =============================================================================
// Agent Port
// =============================================================================

// AgentName identifies an external agent a step delegates to.
type AgentName string

const (
	AgentClassifier    AgentName = "classifier"
	AgentEvidence      AgentName = "evidence"
	AgentTriage        AgentName = "triage"
	AgentKnowledgeBase AgentName = "knowledge_base"
	AgentRemediation   AgentName = "remediation"
	AgentSummary       AgentName = "summary"
)

// AllAgents returns every agent the pipeline calls, in pipeline order.
func AllAgents() []AgentName {
	return []AgentName{
		AgentClassifier,
		AgentEvidence,
		AgentTriage,
		AgentKnowledgeBase,
		AgentRemediation,
		AgentSummary,
	}
}

// Evaluator agents check the outputs of a completed workflow. They run in
// the workflow's session but are not pipeline steps.
const (
	AgentToxicityEvaluator      AgentName = "toxicity_evaluator"
	AgentHallucinationEvaluator AgentName = "hallucination_evaluator"
)

// AgentInvoker performs a synchronous, session-scoped agent call.
//
// sessionID is always the owning workflow id, so every stage of one instance
// shares one logical agent session. Implementations may block; callers bound
// the wait with ctx. Cancelling ctx does not guarantee the remote call stops.
type AgentInvoker interface {
	Invoke(ctx context.Context, sessionID string, agent AgentName, request any) (string, error)
}

// AgentInvokerFunc adapts a function to AgentInvoker.
type AgentInvokerFunc func(ctx context.Context, sessionID string, agent AgentName, request any) (string, error)

// Invoke calls f.
func (f AgentInvokerFunc) Invoke(ctx context.Context, sessionID string, agent AgentName, request any) (string, error) {
	return f(ctx, sessionID, agent, request)
}

// Agent request payloads.
type (
	ClassifyRequest struct {
		Incident string `json:"incident"`
	}

	EvidenceRequest struct {
		Service     string `json:"service"`
		MetricsExpr string `json:"metrics_expr"`
		Range       string `json:"range"`
	}

	TriageRequest struct {
		Context string `json:"context"`
	}

	KnowledgeBaseRequest struct {
		Query string `json:"query"`
	}

	RemediationRequest struct {
		Incident            string `json:"incident"`
		ClassificationJSON  string `json:"classification_json"`
		EvidenceJSON        string `json:"evidence_json"`
		TriageText          string `json:"triage_text"`
		KnowledgeBaseResult string `json:"knowledge_base_result"`
	}

	SummaryRequest struct {
		Incident           string `json:"incident"`
		ClassificationJSON string `json:"classification_json"`
		TriageText         string `json:"triage_text"`
		RemediationText    string `json:"remediation_text"`
	}

	ToxicityRequest struct {
		Text string `json:"text"`
	}

	// HallucinationRequest asks whether Answer is supported by Reference.
	HallucinationRequest struct {
		Query     string `json:"query"`
		Reference string `json:"reference"`
		Answer    string `json:"answer"`
	}
)

// =============================================================================
// StateStore Port
// =============================================================================

// Record is the single durable document kept per workflow id: the domain
// state plus engine bookkeeping that never leaks into the domain state.
type Record struct {
	State WorkflowState `json:"state"`

	// Step is the next step to execute; StepNone once the instance has ended.
	Step StepID `json:"step"`

	// Attempts counts failed executions per step.
	Attempts map[StepID]int `json:"attempts,omitempty"`

	// Paused stops the runner without advancing steps (set by repeat).
	Paused bool `json:"paused,omitempty"`

	// LastError describes the most recent step failure.
	LastError string `json:"last_error,omitempty"`

	// Version increments on every durable write and fences concurrent writers.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the workflow id of the record.
func (r *Record) ID() WorkflowID { return r.State.WorkflowID }

// Ended reports whether no step remains.
func (r *Record) Ended() bool {
	return r.Step == StepNone || r.State.Status.IsTerminal()
}

// Clone returns a deep copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.State = r.State.Clone()
	if r.Attempts != nil {
		out.Attempts = make(map[StepID]int, len(r.Attempts))
		for k, v := range r.Attempts {
			out.Attempts[k] = v
		}
	}
	return &out
}

// WorkflowSummary provides a lightweight summary of a workflow for listing.
type WorkflowSummary struct {
	WorkflowID WorkflowID `json:"workflow_id"`
	Status     Status     `json:"status"`
	Step       StepID     `json:"step"`
	Paused     bool       `json:"paused"`
	Incident   string     `json:"incident"` // Truncated for display
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// StateStore is the abstract durable key-value store the engine relies on:
// one record per workflow id with compare-and-swap writes.
type StateStore interface {
	// Create inserts a new record at version 1. Returns a version conflict
	// error if a record already exists for the id.
	Create(ctx context.Context, rec *Record) error

	// Load returns the record for id, or nil and no error if none exists.
	Load(ctx context.Context, id WorkflowID) (*Record, error)

	// Save replaces the record only if the stored version equals
	// expectedVersion. On success rec.Version is expectedVersion+1. A stale
	// expectedVersion yields a version conflict and leaves the store untouched.
	Save(ctx context.Context, rec *Record, expectedVersion int64) error

	// ListActive returns ids of records that still have a pending step and
	// are not paused.
	ListActive(ctx context.Context) ([]WorkflowID, error)

	// List returns summaries of all records, newest first.
	List(ctx context.Context) ([]WorkflowSummary, error)

	// Close releases resources.
	Close() error
}

// SummaryIncidentLength bounds the incident preview in summaries.
const SummaryIncidentLength = 100

// Summarize builds a WorkflowSummary from a record.
func Summarize(rec *Record) WorkflowSummary {
	incident := rec.State.Incident
	if len(incident) > SummaryIncidentLength {
		incident = incident[:SummaryIncidentLength] + "..."
	}
	return WorkflowSummary{
		WorkflowID: rec.ID(),
		Status:     rec.State.Status,
		Step:       rec.Step,
		Paused:     rec.Paused,
		Incident:   incident,
		CreatedAt:  rec.State.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
