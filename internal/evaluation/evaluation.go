// Package evaluation checks the outputs of completed workflows with evaluator
// agents: the summary and remediation plan for toxic language, and the
// evidence, triage analysis and summary for claims the workflow's own
// material does not support. Checks run in the workflow's agent session after
// the instance has ended and never feed back into its state.
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
)

// Check names one evaluation of one workflow output.
type Check string

const (
	CheckSummaryToxicity       Check = "summary_toxicity"
	CheckRemediationToxicity   Check = "remediation_toxicity"
	CheckEvidenceHallucination Check = "evidence_hallucination"
	CheckTriageHallucination   Check = "triage_hallucination"
	CheckSummaryHallucination  Check = "summary_hallucination"
)

// AllChecks returns every check in evaluation order.
func AllChecks() []Check {
	return []Check{
		CheckSummaryToxicity,
		CheckRemediationToxicity,
		CheckEvidenceHallucination,
		CheckTriageHallucination,
		CheckSummaryHallucination,
	}
}

// Outcome is the recorded result of one check. Error is set, and the
// verdict is meaningless, when the evaluator produced no usable answer.
type Outcome struct {
	core.Verdict
	Error string `json:"error,omitempty"`
}

// OK reports a verdict that passed.
func (o Outcome) OK() bool { return o.Error == "" && o.Passed }

// Result holds every check of one workflow.
type Result struct {
	WorkflowID  core.WorkflowID   `json:"workflow_id"`
	Checks      map[Check]Outcome `json:"checks"`
	Skipped     []Check           `json:"skipped,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// Passed reports whether every check that ran passed. Skipped checks do not
// count against the workflow.
func (r Result) Passed() bool {
	for _, o := range r.Checks {
		if !o.OK() {
			return false
		}
	}
	return true
}

// Failures counts checks whose verdict was negative.
func (r Result) Failures() int {
	n := 0
	for _, o := range r.Checks {
		if o.Error == "" && !o.Passed {
			n++
		}
	}
	return n
}

// Errors counts checks the evaluator could not answer.
func (r Result) Errors() int {
	n := 0
	for _, o := range r.Checks {
		if o.Error != "" {
			n++
		}
	}
	return n
}

// Stats aggregates results for the dashboard.
type Stats struct {
	Total        int           `json:"total"`
	AllPassed    int           `json:"all_passed"`
	WithFailures int           `json:"with_failures"`
	WithErrors   int           `json:"with_errors"`
	PassCounts   map[Check]int `json:"pass_counts"`
}

// Summarize computes Stats over results.
func Summarize(results []Result) Stats {
	st := Stats{Total: len(results), PassCounts: make(map[Check]int, len(AllChecks()))}
	for _, c := range AllChecks() {
		st.PassCounts[c] = 0
	}
	for _, r := range results {
		if r.Passed() {
			st.AllPassed++
		}
		if r.Failures() > 0 {
			st.WithFailures++
		}
		if r.Errors() > 0 {
			st.WithErrors++
		}
		for c, o := range r.Checks {
			if o.OK() {
				st.PassCounts[c]++
			}
		}
	}
	return st
}

type task struct {
	check   Check
	agent   core.AgentName
	request any
}

// plan lists the checks whose input is present in st.
func plan(st core.WorkflowState) (tasks []task, skipped []Check) {
	add := func(c Check, input string, agent core.AgentName, req any) {
		if strings.TrimSpace(input) == "" {
			skipped = append(skipped, c)
			return
		}
		tasks = append(tasks, task{check: c, agent: agent, request: req})
	}

	add(CheckSummaryToxicity, st.SummaryText, core.AgentToxicityEvaluator,
		core.ToxicityRequest{Text: st.SummaryText})
	add(CheckRemediationToxicity, st.RemediationText, core.AgentToxicityEvaluator,
		core.ToxicityRequest{Text: st.RemediationText})
	add(CheckEvidenceHallucination, st.EvidenceLogs, core.AgentHallucinationEvaluator,
		core.HallucinationRequest{Query: st.Incident, Reference: st.Incident, Answer: st.EvidenceLogs})
	add(CheckTriageHallucination, st.TriageText, core.AgentHallucinationEvaluator,
		core.HallucinationRequest{Query: st.Incident, Reference: triageReference(st), Answer: st.TriageText})
	add(CheckSummaryHallucination, st.SummaryText, core.AgentHallucinationEvaluator,
		core.HallucinationRequest{Query: st.Incident, Reference: fullReference(st), Answer: st.SummaryText})
	return tasks, skipped
}

// triageReference is the material the triage analysis was built from.
func triageReference(st core.WorkflowState) string {
	var b strings.Builder
	section(&b, "INCIDENT", st.Incident)
	section(&b, "CLASSIFICATION", st.ClassificationJSON)
	section(&b, "EVIDENCE (LOGS)", st.EvidenceLogs)
	section(&b, "EVIDENCE (METRICS)", st.EvidenceMetrics)
	return b.String()
}

// fullReference is every output the summary was built from.
func fullReference(st core.WorkflowState) string {
	var b strings.Builder
	b.WriteString(triageReference(st))
	section(&b, "TRIAGE ANALYSIS", st.TriageText)
	section(&b, "KNOWLEDGE BASE", st.KnowledgeBaseResult)
	section(&b, "REMEDIATION", st.RemediationText)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(b, "=== %s ===\n%s\n\n", title, body)
}

// Evaluator runs checks and records their results.
type Evaluator struct {
	invoker core.AgentInvoker
	store   Store
	logger  *logging.Logger
	timeout time.Duration
	now     func() time.Time
	meter   metric.Meter
	checks  metric.Int64Counter
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithTimeout bounds each evaluator call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// WithMeter records check outcomes on meter.
func WithMeter(m metric.Meter) Option {
	return func(e *Evaluator) { e.meter = m }
}

// WithClock overrides the result timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator that calls inv and saves into store.
func NewEvaluator(inv core.AgentInvoker, store Store, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		invoker: inv,
		store:   store,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("evaluation")

	if e.meter != nil {
		c, err := e.meter.Int64Counter("triage.evaluations.checks",
			metric.WithDescription("Evaluator checks by outcome"))
		if err != nil {
			return nil, fmt.Errorf("creating evaluation counter: %w", err)
		}
		e.checks = c
	}
	return e, nil
}

// Evaluate checks a COMPLETED workflow state and saves the result. Evaluator
// failures are recorded per check; only a store failure returns an error.
func (e *Evaluator) Evaluate(ctx context.Context, st core.WorkflowState) (Result, error) {
	if st.Status != core.StatusCompleted {
		return Result{}, core.ErrValidation(core.CodeInvalidRequest,
			fmt.Sprintf("workflow %s is %s, only COMPLETED workflows are evaluated", st.WorkflowID, st.Status))
	}
	logger := e.logger.WithWorkflow(string(st.WorkflowID))
	tasks, skipped := plan(st)

	outcomes := make([]Outcome, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = e.run(ctx, st.WorkflowID, t)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		WorkflowID:  st.WorkflowID,
		Checks:      make(map[Check]Outcome, len(tasks)),
		Skipped:     skipped,
		EvaluatedAt: e.now().UTC(),
	}
	for i, t := range tasks {
		res.Checks[t.check] = outcomes[i]
		e.record(ctx, t.check, outcomes[i])
	}

	if err := e.store.Save(ctx, res); err != nil {
		return res, fmt.Errorf("saving evaluation: %w", err)
	}
	logger.Info("workflow evaluated",
		"checks", len(res.Checks),
		"skipped", len(skipped),
		"failures", res.Failures(),
		"errors", res.Errors())
	return res, nil
}

func (e *Evaluator) run(ctx context.Context, id core.WorkflowID, t task) Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err := e.invoker.Invoke(ctx, string(id), t.agent, t.request)
	if err != nil {
		e.logger.WithWorkflow(string(id)).Warn("evaluator call failed", "check", string(t.check), "error", err)
		return Outcome{Error: err.Error()}
	}
	v, err := core.ParseVerdict(out)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return Outcome{Verdict: v}
}

func (e *Evaluator) record(ctx context.Context, c Check, o Outcome) {
	if e.checks == nil {
		return
	}
	outcome := "passed"
	switch {
	case o.Error != "":
		outcome = "error"
	case !o.Passed:
		outcome = "failed"
	}
	e.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", string(c)),
		attribute.String("outcome", outcome),
	))
}

// sortResults orders results newest first, then by id.
func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].EvaluatedAt.Equal(rs[j].EvaluatedAt) {
			return rs[i].EvaluatedAt.After(rs[j].EvaluatedAt)
		}
		return rs[i].WorkflowID < rs[j].WorkflowID
	})
}
