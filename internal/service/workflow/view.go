package workflow

import (
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
)

// AgentMemoryMode describes how agent sessions retain context: each call
// sees a bounded window of the session history.
const AgentMemoryMode = "LIMITED_WINDOW"

// StateView is the read model returned by GetState.
type StateView struct {
	Status              core.Status `json:"status" yaml:"status"`
	Incident            string      `json:"incident,omitempty" yaml:"incident,omitempty"`
	ClassificationJSON  string      `json:"classificationJson,omitempty" yaml:"classification_json,omitempty"`
	EvidenceLogs        string      `json:"evidenceLogs,omitempty" yaml:"evidence_logs,omitempty"`
	EvidenceMetrics     string      `json:"evidenceMetrics,omitempty" yaml:"evidence_metrics,omitempty"`
	TriageText          string      `json:"triageText,omitempty" yaml:"triage_text,omitempty"`
	RemediationText     string      `json:"remediationText,omitempty" yaml:"remediation_text,omitempty"`
	SummaryText         string      `json:"summaryText,omitempty" yaml:"summary_text,omitempty"`
	KnowledgeBaseResult string      `json:"knowledgeBaseResult,omitempty" yaml:"knowledge_base_result,omitempty"`

	AgentSessionID   string                     `json:"agentSessionId,omitempty" yaml:"agent_session_id,omitempty"`
	ContextEntries   int                        `json:"contextEntries" yaml:"context_entries"`
	ApproxStateChars int64                      `json:"approxStateChars" yaml:"approx_state_chars"`
	Memory           diagnostics.MemorySnapshot `json:"memory" yaml:"memory"`
	AgentMemoryMode  string                     `json:"agentMemoryMode" yaml:"agent_memory_mode"`

	Step      string         `json:"step,omitempty" yaml:"step,omitempty"`
	Attempts  map[string]int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Paused    bool           `json:"paused" yaml:"paused"`
	LastError string         `json:"lastError,omitempty" yaml:"last_error,omitempty"`
	Version   int64          `json:"version" yaml:"version"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty" yaml:"updated_at,omitempty"`
}

// EmptyStateView is the sentinel reported for ids that were never started.
func EmptyStateView(mem diagnostics.MemorySnapshot) StateView {
	return StateView{
		Status:          core.StatusEmpty,
		Memory:          mem,
		AgentMemoryMode: AgentMemoryMode,
	}
}

// NewStateView projects a record into a view.
func NewStateView(rec *core.Record, mem diagnostics.MemorySnapshot) StateView {
	st := rec.State
	v := StateView{
		Status:              st.Status,
		Incident:            st.Incident,
		ClassificationJSON:  st.ClassificationJSON,
		EvidenceLogs:        st.EvidenceLogs,
		EvidenceMetrics:     st.EvidenceMetrics,
		TriageText:          st.TriageText,
		RemediationText:     st.RemediationText,
		SummaryText:         st.SummaryText,
		KnowledgeBaseResult: st.KnowledgeBaseResult,
		AgentSessionID:      string(st.WorkflowID),
		ContextEntries:      len(st.Conversation),
		ApproxStateChars:    st.ApproxChars(),
		Memory:              mem,
		AgentMemoryMode:     AgentMemoryMode,
		Step:                rec.Step.String(),
		Paused:              rec.Paused,
		LastError:           rec.LastError,
		Version:             rec.Version,
	}
	if len(rec.Attempts) > 0 {
		v.Attempts = make(map[string]int, len(rec.Attempts))
		for step, n := range rec.Attempts {
			v.Attempts[step.String()] = n
		}
	}
	if !rec.UpdatedAt.IsZero() {
		updated := rec.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}

// IsEmpty reports whether v is the EMPTY sentinel.
func (v StateView) IsEmpty() bool {
	return v.Status == core.StatusEmpty
}
