package core

import (
	"time"
)

// WorkflowID identifies one workflow instance. It is assigned by the caller
// and doubles as the agent session id.
type WorkflowID string

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationEntry is one line of the append-only conversation log.
type ConversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WorkflowState is the versioned state document of one workflow instance.
//
// Values are treated as immutable: every With* method returns a copy and
// leaves the receiver untouched. Stage outputs are empty until their stage
// has run.
type WorkflowState struct {
	WorkflowID          WorkflowID          `json:"workflow_id"`
	Status              Status              `json:"status"`
	Incident            string              `json:"incident,omitempty"`
	ClassificationJSON  string              `json:"classification_json,omitempty"`
	EvidenceLogs        string              `json:"evidence_logs,omitempty"`
	EvidenceMetrics     string              `json:"evidence_metrics,omitempty"`
	TriageText          string              `json:"triage_text,omitempty"`
	KnowledgeBaseResult string              `json:"knowledge_base_result,omitempty"`
	RemediationText     string              `json:"remediation_text,omitempty"`
	SummaryText         string              `json:"summary_text,omitempty"`
	Conversation        []ConversationEntry `json:"conversation"`
	CreatedAt           time.Time           `json:"created_at"`
}

// NewWorkflowState returns an empty INITIATED state for id.
func NewWorkflowState(id WorkflowID, now time.Time) WorkflowState {
	return WorkflowState{
		WorkflowID:   id,
		Status:       StatusInitiated,
		Conversation: []ConversationEntry{},
		CreatedAt:    now,
	}
}

// AddConversation appends an entry. The returned state never shares its
// conversation backing array with the receiver.
func (s WorkflowState) AddConversation(role, content string) WorkflowState {
	entries := make([]ConversationEntry, len(s.Conversation), len(s.Conversation)+1)
	copy(entries, s.Conversation)
	s.Conversation = append(entries, ConversationEntry{Role: role, Content: content})
	return s
}

// WithStatus returns a copy with the status replaced.
func (s WorkflowState) WithStatus(status Status) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.Status = status
	return s
}

// WithIncident returns a copy with the incident text set.
func (s WorkflowState) WithIncident(incident string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.Incident = incident
	return s
}

// WithClassification returns a copy holding the raw classifier output.
func (s WorkflowState) WithClassification(raw string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.ClassificationJSON = raw
	return s
}

// WithEvidence returns a copy holding collected logs and metrics.
func (s WorkflowState) WithEvidence(logs, metrics string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.EvidenceLogs = logs
	s.EvidenceMetrics = metrics
	return s
}

// WithTriageText returns a copy holding the triage analysis.
func (s WorkflowState) WithTriageText(text string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.TriageText = text
	return s
}

// WithKnowledgeBaseResult returns a copy holding the knowledge base answer.
func (s WorkflowState) WithKnowledgeBaseResult(result string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.KnowledgeBaseResult = result
	return s
}

// WithRemediationText returns a copy holding the remediation plan.
func (s WorkflowState) WithRemediationText(text string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.RemediationText = text
	return s
}

// WithSummaryText returns a copy holding the stakeholder summary.
func (s WorkflowState) WithSummaryText(text string) WorkflowState {
	s.Conversation = s.cloneConversation()
	s.SummaryText = text
	return s
}

// Clone returns a deep copy.
func (s WorkflowState) Clone() WorkflowState {
	s.Conversation = s.cloneConversation()
	return s
}

func (s WorkflowState) cloneConversation() []ConversationEntry {
	if s.Conversation == nil {
		return nil
	}
	out := make([]ConversationEntry, len(s.Conversation))
	copy(out, s.Conversation)
	return out
}

// ApproxChars estimates the in-memory size of the state in characters.
func (s WorkflowState) ApproxChars() int64 {
	n := len(s.Incident) + len(s.ClassificationJSON) + len(s.EvidenceLogs) +
		len(s.EvidenceMetrics) + len(s.TriageText) + len(s.RemediationText) +
		len(s.SummaryText) + len(s.KnowledgeBaseResult)
	for _, c := range s.Conversation {
		n += len(c.Role) + len(c.Content)
	}
	return int64(n)
}
