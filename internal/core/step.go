package core

import "fmt"

// StepID is the closed set of pipeline steps. Steps are looked up through a
// fixed table indexed by StepID; names exist only for persistence and logs.
type StepID uint8

const (
	// StepNone marks a record with no pending step: the instance has ended.
	StepNone StepID = iota
	StepClassify
	StepGatherEvidence
	StepTriage
	StepQueryKnowledgeBase
	StepRemediate
	StepSummarize
	StepFinalize
	StepInterrupt

	stepCount
)

// NumSteps is the size of tables indexed by StepID.
const NumSteps = int(stepCount)

var stepNames = [stepCount]string{
	StepNone:               "",
	StepClassify:           "classify",
	StepGatherEvidence:     "gather_evidence",
	StepTriage:             "triage",
	StepQueryKnowledgeBase: "query_knowledge_base",
	StepRemediate:          "remediate",
	StepSummarize:          "summarize",
	StepFinalize:           "finalize",
	StepInterrupt:          "interrupt",
}

// String returns the persisted step name.
func (s StepID) String() string {
	if s >= stepCount {
		return fmt.Sprintf("step(%d)", uint8(s))
	}
	return stepNames[s]
}

// Valid reports whether s names a declared step (StepNone excluded).
func (s StepID) Valid() bool {
	return s > StepNone && s < stepCount
}

// IsTerminal reports whether s ends the instance when it succeeds.
func (s StepID) IsTerminal() bool {
	return s == StepFinalize || s == StepInterrupt
}

// ParseStepID resolves a persisted step name. The empty string maps to
// StepNone.
func ParseStepID(name string) (StepID, error) {
	for i, n := range stepNames {
		if n == name {
			return StepID(i), nil
		}
	}
	return StepNone, ErrValidation(CodeUnknownStep, fmt.Sprintf("unknown step %q", name))
}

// PipelineOrder returns the happy-path steps in execution order.
func PipelineOrder() []StepID {
	return []StepID{
		StepClassify,
		StepGatherEvidence,
		StepTriage,
		StepQueryKnowledgeBase,
		StepRemediate,
		StepSummarize,
		StepFinalize,
	}
}

// MarshalText implements encoding.TextMarshaler so StepID persists by name.
func (s StepID) MarshalText() ([]byte, error) {
	if s >= stepCount {
		return nil, fmt.Errorf("invalid step id %d", uint8(s))
	}
	return []byte(stepNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepID) UnmarshalText(b []byte) error {
	id, err := ParseStepID(string(b))
	if err != nil {
		return err
	}
	*s = id
	return nil
}
