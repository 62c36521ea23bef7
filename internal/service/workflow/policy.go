package workflow

import "github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"

// DefaultMaxRetries is the retry budget of a step without an override.
const DefaultMaxRetries = 1

// Action is the outcome of evaluating a recovery policy.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionFailover Action = "failover"
)

// RecoveryPolicy decides what happens after a step fails or times out.
type RecoveryPolicy struct {
	MaxRetries int
	Failover   core.StepID
}

// DefaultPolicy retries once, then fails over to interrupt.
func DefaultPolicy() RecoveryPolicy {
	return RecoveryPolicy{MaxRetries: DefaultMaxRetries, Failover: core.StepInterrupt}
}

// Decision is a resolved recovery action.
type Decision struct {
	Action Action
	Next   core.StepID
}

// Evaluate resolves the action for a step that has now failed attempts
// times in total. A timeout counts the same as an error.
func (p RecoveryPolicy) Evaluate(step core.StepID, attempts int) Decision {
	if attempts <= p.MaxRetries {
		return Decision{Action: ActionRetry, Next: step}
	}
	return Decision{Action: ActionFailover, Next: p.Failover}
}
