package events

import "time"

// Event type constants for triage workflow events.
const (
	TypeWorkflowStarted      = "workflow_started"
	TypeWorkflowStateUpdated = "workflow_state_updated"
	TypeStepFailed           = "step_failed"
	TypeWorkflowCompleted    = "workflow_completed"
	TypeWorkflowInterrupted  = "workflow_interrupted"
	TypeWorkflowPaused       = "workflow_paused"
	TypeWorkflowResumed      = "workflow_resumed"
	TypePersistenceFailed    = "persistence_failed"
)

// WorkflowStartedEvent is emitted once the initial record is durable.
type WorkflowStartedEvent struct {
	BaseEvent
	Incident string `json:"incident"`
}

// NewWorkflowStartedEvent creates a new workflow started event.
func NewWorkflowStartedEvent(workflowID, incident string) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowStarted, workflowID),
		Incident:  incident,
	}
}

// WorkflowStateUpdatedEvent is emitted after every committed transition.
// Service and Severity are set once classification has succeeded.
type WorkflowStateUpdatedEvent struct {
	BaseEvent
	Status    string `json:"status"`
	Step      string `json:"step"`
	Completed string `json:"completed_step,omitempty"`
	Service   string `json:"service,omitempty"`
	Severity  string `json:"severity,omitempty"`
	HighRisk  bool   `json:"high_risk,omitempty"`
	Version   int64  `json:"version"`
}

// NewWorkflowStateUpdatedEvent creates a new state updated event.
func NewWorkflowStateUpdatedEvent(workflowID, status, step, completed string, version int64) WorkflowStateUpdatedEvent {
	return WorkflowStateUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowStateUpdated, workflowID),
		Status:    status,
		Step:      step,
		Completed: completed,
		Version:   version,
	}
}

// StepFailedEvent is emitted when a step attempt fails or times out and the
// recovery decision has been committed.
type StepFailedEvent struct {
	BaseEvent
	Step     string `json:"step"`
	Attempt  int    `json:"attempt"`
	Decision string `json:"decision"` // retry or failover
	Next     string `json:"next"`
	Error    string `json:"error"`
	TimedOut bool   `json:"timed_out"`
}

// NewStepFailedEvent creates a new step failed event.
func NewStepFailedEvent(workflowID, step string, attempt int, decision, next string, err error, timedOut bool) StepFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return StepFailedEvent{
		BaseEvent: NewBaseEvent(TypeStepFailed, workflowID),
		Step:      step,
		Attempt:   attempt,
		Decision:  decision,
		Next:      next,
		Error:     errStr,
		TimedOut:  timedOut,
	}
}

// WorkflowCompletedEvent is emitted when finalize commits.
// This is a PRIORITY event - never dropped.
type WorkflowCompletedEvent struct {
	BaseEvent
	Duration time.Duration `json:"duration"`
}

// NewWorkflowCompletedEvent creates a new workflow completed event.
func NewWorkflowCompletedEvent(workflowID string, duration time.Duration) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCompleted, workflowID),
		Duration:  duration,
	}
}

// WorkflowInterruptedEvent is emitted when interrupt commits.
// This is a PRIORITY event - never dropped.
type WorkflowInterruptedEvent struct {
	BaseEvent
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// NewWorkflowInterruptedEvent creates a new workflow interrupted event.
func NewWorkflowInterruptedEvent(workflowID, step, reason string) WorkflowInterruptedEvent {
	return WorkflowInterruptedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowInterrupted, workflowID),
		Step:      step,
		Reason:    reason,
	}
}

// WorkflowPausedEvent is emitted when a repeat command pauses an instance.
type WorkflowPausedEvent struct {
	BaseEvent
	Entries int `json:"entries"`
}

// NewWorkflowPausedEvent creates a new workflow paused event.
func NewWorkflowPausedEvent(workflowID string, entries int) WorkflowPausedEvent {
	return WorkflowPausedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowPaused, workflowID),
		Entries:   entries,
	}
}

// WorkflowResumedEvent is emitted when a runner is relaunched for an
// unfinished instance.
type WorkflowResumedEvent struct {
	BaseEvent
	Step string `json:"step"`
}

// NewWorkflowResumedEvent creates a new workflow resumed event.
func NewWorkflowResumedEvent(workflowID, step string) WorkflowResumedEvent {
	return WorkflowResumedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowResumed, workflowID),
		Step:      step,
	}
}

// PersistenceFailedEvent is emitted when a runner gives up on the state store.
// This is a PRIORITY event - never dropped.
type PersistenceFailedEvent struct {
	BaseEvent
	Step  string `json:"step"`
	Error string `json:"error"`
}

// NewPersistenceFailedEvent creates a new persistence failed event.
func NewPersistenceFailedEvent(workflowID, step string, err error) PersistenceFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return PersistenceFailedEvent{
		BaseEvent: NewBaseEvent(TypePersistenceFailed, workflowID),
		Step:      step,
		Error:     errStr,
	}
}
