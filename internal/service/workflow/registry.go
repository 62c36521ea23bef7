package workflow

import (
	"fmt"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// DefaultStepTimeout bounds every step without an override.
const DefaultStepTimeout = 300 * time.Second

// StepDefinition binds a step id to its body, recovery policy and timeout.
type StepDefinition struct {
	ID      core.StepID
	Func    StepFunc
	Policy  RecoveryPolicy
	Timeout time.Duration
	// Next is the step scheduled after success; StepNone for terminal steps.
	Next core.StepID
}

// StepOverride adjusts a single step. Zero values keep the default.
type StepOverride struct {
	Timeout    time.Duration
	MaxRetries *int
}

// RegistryConfig configures the step table. A nil DefaultMaxRetries keeps
// the budget of DefaultPolicy.
type RegistryConfig struct {
	DefaultTimeout    time.Duration
	DefaultMaxRetries *int
	Overrides         map[core.StepID]StepOverride
}

// Registry is the fixed step table, indexed by StepID.
type Registry struct {
	defs [core.NumSteps]StepDefinition
}

// NewRegistry builds the step table: the happy path from classify to
// finalize, gather_evidence failing over to triage, remediate failing over
// to summarize and everything else failing over to interrupt.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultStepTimeout
	}
	base := DefaultPolicy()
	if cfg.DefaultMaxRetries != nil {
		if *cfg.DefaultMaxRetries < 0 {
			return nil, core.ErrValidation(core.CodeInvalidRetries, "default max retries must be >= 0")
		}
		base.MaxRetries = *cfg.DefaultMaxRetries
	}

	policy := func(failover core.StepID) RecoveryPolicy {
		p := base
		p.Failover = failover
		return p
	}

	r := &Registry{}
	r.defs[core.StepClassify] = StepDefinition{Func: classifyStep, Policy: policy(core.StepInterrupt), Next: core.StepGatherEvidence}
	r.defs[core.StepGatherEvidence] = StepDefinition{Func: gatherEvidenceStep, Policy: policy(core.StepTriage), Next: core.StepTriage}
	r.defs[core.StepTriage] = StepDefinition{Func: triageStep, Policy: policy(core.StepInterrupt), Next: core.StepQueryKnowledgeBase}
	r.defs[core.StepQueryKnowledgeBase] = StepDefinition{Func: knowledgeBaseStep, Policy: policy(core.StepInterrupt), Next: core.StepRemediate}
	r.defs[core.StepRemediate] = StepDefinition{Func: remediateStep, Policy: policy(core.StepSummarize), Next: core.StepSummarize}
	r.defs[core.StepSummarize] = StepDefinition{Func: summarizeStep, Policy: policy(core.StepInterrupt), Next: core.StepFinalize}
	r.defs[core.StepFinalize] = StepDefinition{Func: finalizeStep, Policy: policy(core.StepInterrupt), Next: core.StepNone}
	r.defs[core.StepInterrupt] = StepDefinition{Func: interruptStep, Policy: policy(core.StepInterrupt), Next: core.StepNone}

	for i := range r.defs {
		id := core.StepID(i)
		if !id.Valid() {
			continue
		}
		def := &r.defs[i]
		def.ID = id
		def.Timeout = cfg.DefaultTimeout

		o, ok := cfg.Overrides[id]
		if !ok {
			continue
		}
		if o.Timeout < 0 {
			return nil, core.ErrValidation(core.CodeInvalidTimeout, fmt.Sprintf("step %s: timeout must be positive", id))
		}
		if o.Timeout > 0 {
			def.Timeout = o.Timeout
		}
		if o.MaxRetries != nil {
			if *o.MaxRetries < 0 {
				return nil, core.ErrValidation(core.CodeInvalidRetries, fmt.Sprintf("step %s: max retries must be >= 0", id))
			}
			def.Policy.MaxRetries = *o.MaxRetries
		}
	}
	for id := range cfg.Overrides {
		if !id.Valid() {
			return nil, core.ErrValidation(core.CodeUnknownStep, fmt.Sprintf("override for unknown step %s", id))
		}
	}
	return r, nil
}

// Lookup returns the definition of id.
func (r *Registry) Lookup(id core.StepID) (StepDefinition, bool) {
	if !id.Valid() {
		return StepDefinition{}, false
	}
	return r.defs[id], true
}

// Definitions returns every step definition in StepID order.
func (r *Registry) Definitions() []StepDefinition {
	out := make([]StepDefinition, 0, core.NumSteps-1)
	for i := range r.defs {
		if core.StepID(i).Valid() {
			out = append(out, r.defs[i])
		}
	}
	return out
}
