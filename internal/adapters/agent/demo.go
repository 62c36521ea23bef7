package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// DemoInvoker answers every agent with canned, deterministic output derived
// from the request. It lets the pipeline run end to end without any remote
// agent.
type DemoInvoker struct{}

// NewDemoInvoker creates a demo invoker.
func NewDemoInvoker() *DemoInvoker {
	return &DemoInvoker{}
}

var serviceKeywords = []struct {
	service  string
	keywords []string
}{
	{"db", []string{"database", "postgres", "mysql", "db ", " db", "sql"}},
	{"payment-service", []string{"payment", "checkout", "billing"}},
	{"auth-service", []string{"auth", "login", "token", "sso"}},
	{"order-service", []string{"order", "cart"}},
}

var severityKeywords = []struct {
	severity core.Severity
	keywords []string
}{
	{core.SeverityP1, []string{"outage", "down", "all users", "data loss", "critical"}},
	{core.SeverityP2, []string{"5xx", "error rate", "degraded", "latency", "timeout"}},
	{core.SeverityP3, []string{"slow", "intermittent", "warning"}},
}

// Invoke implements core.AgentInvoker.
func (d *DemoInvoker) Invoke(ctx context.Context, sessionID string, agent core.AgentName, request any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch req := request.(type) {
	case core.ClassifyRequest:
		return classify(req.Incident), nil
	case core.EvidenceRequest:
		return evidence(req), nil
	case core.TriageRequest:
		return toJSON(map[string]any{
			"analysis": "Error spike correlates with connection pool exhaustion after the latest deploy.",
			"hypotheses": []string{
				"connection pool too small for current traffic",
				"slow queries holding connections",
			},
			"confidence": map[string]float64{"confidence": 7.5},
		}), nil
	case core.KnowledgeBaseRequest:
		return fmt.Sprintf("Runbook for %s: check recent deploys, inspect connection pool saturation, "+
			"roll back if error rate stays above SLO for 10 minutes.", req.Query), nil
	case core.RemediationRequest:
		risk := "medium"
		if c, err := core.ParseClassification(req.ClassificationJSON); err == nil && c.Severity == core.SeverityP1 {
			risk = "high"
		}
		return toJSON(map[string]any{
			"risk_level": risk,
			"actions": []string{
				"increase connection pool size",
				"roll back the latest deploy if errors persist",
			},
		}), nil
	case core.SummaryRequest:
		return fmt.Sprintf("## Incident summary\n\n**Incident:** %s\n\n**Triage:** %s\n\n**Next steps:** follow the remediation plan.",
			firstLine(req.Incident), firstLine(req.TriageText)), nil
	case core.ToxicityRequest:
		if term, ok := firstMatch(strings.ToLower(req.Text), toxicTerms); ok {
			return verdict(false, fmt.Sprintf("contains disallowed language (%q)", term)), nil
		}
		return verdict(true, "no toxic language found"), nil
	case core.HallucinationRequest:
		if grounded(req.Answer, req.Reference) {
			return verdict(true, "answer overlaps the reference material"), nil
		}
		return verdict(false, "answer shares no terms with the reference material"), nil
	default:
		return "", fmt.Errorf("demo agent %s: unsupported request %T", agent, request)
	}
}

func classify(incident string) string {
	lower := " " + strings.ToLower(incident) + " "
	service := "platform"
	for _, sk := range serviceKeywords {
		if containsAny(lower, sk.keywords) {
			service = sk.service
			break
		}
	}
	severity := core.SeverityP4
	for _, sk := range severityKeywords {
		if containsAny(lower, sk.keywords) {
			severity = sk.severity
			break
		}
	}
	return toJSON(map[string]any{
		"service":    service,
		"severity":   string(severity),
		"confidence": map[string]float64{"overall": 8.0},
	})
}

func evidence(req core.EvidenceRequest) string {
	return toJSON(map[string]any{
		"logs": fmt.Sprintf("%s: ERROR connection pool exhausted (active=50 max=50)\n"+
			"%s: WARN request latency above 2s", req.Service, req.Service),
		"metrics": fmt.Sprintf("%s over %s: 12.4%% error rate", req.MetricsExpr, req.Range),
		"analysis": map[string]any{
			"key_findings": []string{"connection pool saturation", "error rate above SLO"},
		},
		"confidence": map[string]float64{"data_quality": 8.5},
	})
}

func containsAny(s string, keywords []string) bool {
	_, ok := firstMatch(s, keywords)
	return ok
}

func firstMatch(s string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return k, true
		}
	}
	return "", false
}

var toxicTerms = []string{"idiot", "stupid", "moron", "shut up", "hate you"}

// grounded reports whether answer shares a word of five or more letters
// with reference.
func grounded(answer, reference string) bool {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(reference), notLetter) {
		if len(w) >= 5 {
			words[w] = struct{}{}
		}
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(answer), notLetter) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

func notLetter(r rune) bool {
	return !unicode.IsLetter(r)
}

func verdict(passed bool, explanation string) string {
	return toJSON(map[string]any{"passed": passed, "explanation": explanation})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
