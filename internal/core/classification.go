package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is the incident priority assigned by the classifier.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// IsValid reports whether s is one of P1..P4.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityP1, SeverityP2, SeverityP3, SeverityP4:
		return true
	}
	return false
}

// Classification is the schema the engine reads from classifier output.
type Classification struct {
	Service    string   `json:"service"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence,omitempty"`
}

type classificationDoc struct {
	Classification *struct {
		Service  string `json:"service"`
		Severity string `json:"severity"`
	} `json:"classification"`
	Service    string          `json:"service"`
	Severity   string          `json:"severity"`
	Confidence json.RawMessage `json:"confidence"`
}

// ParseClassification decodes and validates classifier output. Both the flat
// form {"service":..,"severity":..} and the nested
// {"classification":{"service":..,"severity":..}} form are accepted.
func ParseClassification(raw string) (Classification, error) {
	if strings.TrimSpace(raw) == "" {
		return Classification{}, ErrParse("classification", "empty output")
	}
	var doc classificationDoc
	if err := decodeStrict(raw, &doc); err != nil {
		return Classification{}, ErrParse("classification", "invalid JSON").WithCause(err)
	}

	service, severity := doc.Service, doc.Severity
	if doc.Classification != nil {
		if doc.Classification.Service != "" {
			service = doc.Classification.Service
		}
		if doc.Classification.Severity != "" {
			severity = doc.Classification.Severity
		}
	}

	c := Classification{
		Service:    strings.TrimSpace(service),
		Severity:   Severity(strings.ToUpper(strings.TrimSpace(severity))),
		Confidence: decodeConfidence(doc.Confidence, "overall"),
	}
	if c.Service == "" {
		return Classification{}, ErrParse("classification.service", "missing")
	}
	if !c.Severity.IsValid() {
		return Classification{}, ErrParse("classification.severity", fmt.Sprintf("unsupported value %q", severity))
	}
	return c, nil
}

// RequiresEscalation reports whether the incident should page on-call.
func (c Classification) RequiresEscalation() bool {
	return c.Severity == SeverityP1
}

// EvidenceParams returns the metrics expression and time range the evidence
// agent should query for this severity.
func (c Classification) EvidenceParams() (metricsExpr, timeRange string) {
	if c.Severity == SeverityP1 {
		return "errors:rate1m", "30m"
	}
	return "errors:rate5m", "1h"
}

// EvidenceReport is the schema the engine reads from evidence agent output.
type EvidenceReport struct {
	Logs        string
	Metrics     string
	KeyFindings []string
	DataQuality float64
	// Structured is false when the agent returned free text; the text is
	// then carried in Logs.
	Structured bool
}

type evidenceDoc struct {
	Logs     json.RawMessage `json:"logs"`
	Metrics  json.RawMessage `json:"metrics"`
	Analysis *struct {
		KeyFindings []string `json:"key_findings"`
	} `json:"analysis"`
	Confidence json.RawMessage `json:"confidence"`
}

// ParseEvidence decodes evidence output. Output that is not a JSON object is
// kept verbatim as logs.
func ParseEvidence(raw string) EvidenceReport {
	var doc evidenceDoc
	if err := decodeStrict(raw, &doc); err != nil {
		return EvidenceReport{Logs: raw}
	}
	r := EvidenceReport{
		Logs:        rawText(doc.Logs),
		Metrics:     rawText(doc.Metrics),
		DataQuality: decodeConfidence(doc.Confidence, "data_quality"),
		Structured:  true,
	}
	if doc.Analysis != nil {
		r.KeyFindings = doc.Analysis.KeyFindings
	}
	if r.Logs == "" && r.Metrics == "" {
		r.Logs = raw
	}
	return r
}

// EvidenceJSON serializes collected evidence for downstream agents.
// Absent fields are encoded as null; no evidence at all yields "{}".
func EvidenceJSON(logs, metrics string) string {
	if logs == "" && metrics == "" {
		return "{}"
	}
	doc := struct {
		Logs    *string `json:"logs"`
		Metrics *string `json:"metrics"`
	}{}
	if logs != "" {
		doc.Logs = &logs
	}
	if metrics != "" {
		doc.Metrics = &metrics
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseConfidence reads a top-level confidence score from agent output,
// accepting either a number or an object keyed by scoreType/"overall".
// Output that is not JSON scores 0.
func ParseConfidence(raw, scoreType string) float64 {
	var doc struct {
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := decodeStrict(raw, &doc); err != nil {
		return 0
	}
	return decodeConfidence(doc.Confidence, scoreType)
}

// RemediationPlan is the schema the engine reads from remediation output.
type RemediationPlan struct {
	RiskLevel string `json:"risk_level"`
}

// ParseRemediation decodes the risk level of a remediation plan. Free-text
// plans carry no risk level.
func ParseRemediation(raw string) RemediationPlan {
	var plan RemediationPlan
	if err := decodeStrict(raw, &plan); err != nil {
		return RemediationPlan{}
	}
	return plan
}

// HighRisk reports whether the plan contains high risk actions.
func (p RemediationPlan) HighRisk() bool {
	switch strings.ToLower(strings.TrimSpace(p.RiskLevel)) {
	case "high", "critical":
		return true
	}
	return false
}

// decodeStrict decodes a single JSON object; trailing data is an error.
func decodeStrict(raw string, v any) error {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("expected JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func decodeConfidence(raw json.RawMessage, scoreType string) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var obj map[string]float64
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	if v, ok := obj[scoreType]; ok {
		return v
	}
	return obj["overall"]
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Verdict is an evaluator agent's judgement of one output.
type Verdict struct {
	Passed      bool   `json:"passed"`
	Explanation string `json:"explanation,omitempty"`
}

// ParseVerdict decodes an evaluator reply. The passed field is required.
func ParseVerdict(raw string) (Verdict, error) {
	var out struct {
		Passed      *bool  `json:"passed"`
		Explanation string `json:"explanation"`
	}
	if err := decodeStrict(raw, &out); err != nil {
		return Verdict{}, ErrParse("verdict", err.Error())
	}
	if out.Passed == nil {
		return Verdict{}, ErrParse("verdict", "missing passed")
	}
	return Verdict{Passed: *out.Passed, Explanation: strings.TrimSpace(out.Explanation)}, nil
}
