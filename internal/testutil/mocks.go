package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// Canned agent outputs used by MockInvoker unless a test overrides them.
const (
	ClassificationOutput = `{"service":"db","severity":"P2","confidence":{"overall":8.5}}`
	EvidenceOutput       = `{"logs":"db: ERROR too many connections","metrics":"errors:rate5m=0.12","analysis":{"key_findings":["pool exhausted"]},"confidence":{"data_quality":7}}`
	TriageOutput         = `{"analysis":"connection pool exhaustion","confidence":{"confidence":8}}`
	KnowledgeBaseOutput  = "Runbook: raise pool size, restart pods"
	RemediationOutput    = `{"risk_level":"medium","actions":["raise pool size"]}`
	SummaryOutput        = "## Summary\nDB connection pool exhausted; pool size raised."
	VerdictOutput        = `{"passed":true,"explanation":"no issues found"}`
)

// InvokerCall records one agent invocation.
type InvokerCall struct {
	SessionID string
	Agent     core.AgentName
	Request   any
	// Attempt counts calls to this agent, starting at 1.
	Attempt   int
	Timestamp time.Time
}

// AgentHandler scripts the reply for one agent.
type AgentHandler func(ctx context.Context, call InvokerCall) (string, error)

// MockInvoker implements core.AgentInvoker for tests. Every agent answers
// with a canned output until a handler is installed for it.
type MockInvoker struct {
	mu       sync.Mutex
	handlers map[core.AgentName]AgentHandler
	calls    []InvokerCall
	counts   map[core.AgentName]int
}

// NewMockInvoker creates a mock whose agents all succeed.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		handlers: make(map[core.AgentName]AgentHandler),
		counts:   make(map[core.AgentName]int),
	}
}

// DefaultOutput returns the canned output for agent.
func DefaultOutput(agent core.AgentName) string {
	switch agent {
	case core.AgentClassifier:
		return ClassificationOutput
	case core.AgentEvidence:
		return EvidenceOutput
	case core.AgentTriage:
		return TriageOutput
	case core.AgentKnowledgeBase:
		return KnowledgeBaseOutput
	case core.AgentRemediation:
		return RemediationOutput
	case core.AgentSummary:
		return SummaryOutput
	case core.AgentToxicityEvaluator, core.AgentHallucinationEvaluator:
		return VerdictOutput
	default:
		return ""
	}
}

// Invoke implements core.AgentInvoker.
func (m *MockInvoker) Invoke(ctx context.Context, sessionID string, agent core.AgentName, request any) (string, error) {
	m.mu.Lock()
	m.counts[agent]++
	call := InvokerCall{
		SessionID: sessionID,
		Agent:     agent,
		Request:   request,
		Attempt:   m.counts[agent],
		Timestamp: time.Now(),
	}
	m.calls = append(m.calls, call)
	handler := m.handlers[agent]
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, call)
	}
	return DefaultOutput(agent), nil
}

// On installs a handler for agent.
func (m *MockInvoker) On(agent core.AgentName, handler AgentHandler) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[agent] = handler
	return m
}

// Respond makes agent always return output.
func (m *MockInvoker) Respond(agent core.AgentName, output string) *MockInvoker {
	return m.On(agent, func(context.Context, InvokerCall) (string, error) {
		return output, nil
	})
}

// Fail makes every call to agent return err.
func (m *MockInvoker) Fail(agent core.AgentName, err error) *MockInvoker {
	return m.On(agent, func(context.Context, InvokerCall) (string, error) {
		return "", err
	})
}

// FailTimes makes the first n calls to agent return err; later calls get the
// canned output.
func (m *MockInvoker) FailTimes(agent core.AgentName, n int, err error) *MockInvoker {
	return m.On(agent, func(_ context.Context, call InvokerCall) (string, error) {
		if call.Attempt <= n {
			return "", err
		}
		return DefaultOutput(agent), nil
	})
}

// Stall makes the first call to agent ignore cancellation and block until
// release is closed, then return output. Later calls answer normally. It
// models a remote call that outlives its step timeout.
func (m *MockInvoker) Stall(agent core.AgentName, release <-chan struct{}, output string) *MockInvoker {
	return m.On(agent, func(_ context.Context, call InvokerCall) (string, error) {
		if call.Attempt == 1 {
			<-release
			return output, nil
		}
		return DefaultOutput(agent), nil
	})
}

// Calls returns a copy of the recorded calls.
func (m *MockInvoker) Calls() []InvokerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvokerCall(nil), m.calls...)
}

// CallCount returns how many times agent was invoked.
func (m *MockInvoker) CallCount(agent core.AgentName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[agent]
}

// Agents returns the invoked agents in call order.
func (m *MockInvoker) Agents() []core.AgentName {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.AgentName, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Agent
	}
	return out
}

// Reset clears call history and handlers.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.counts = make(map[core.AgentName]int)
	m.handlers = make(map[core.AgentName]AgentHandler)
}

var _ core.AgentInvoker = (*MockInvoker)(nil)
