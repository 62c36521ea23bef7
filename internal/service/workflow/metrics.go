package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// MeterName is the instrumentation scope of the engine instruments.
const MeterName = "github.com/PradeepLoganathan/AgenticAI-Triage-System/workflow"

// Metrics holds the engine instruments.
type Metrics struct {
	stepsCompleted metric.Int64Counter
	stepsFailed    metric.Int64Counter
	failovers      metric.Int64Counter
	fencedWrites   metric.Int64Counter
	finished       metric.Int64Counter
	persistErrors  metric.Int64Counter
	stepDuration   metric.Float64Histogram
}

// NewMetrics creates the engine instruments on meter. A nil meter uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &Metrics{}
	var err error

	if m.stepsCompleted, err = meter.Int64Counter("triage.steps.completed",
		metric.WithDescription("Steps that committed a successful result")); err != nil {
		return nil, err
	}
	if m.stepsFailed, err = meter.Int64Counter("triage.steps.failed",
		metric.WithDescription("Step attempts that failed or timed out")); err != nil {
		return nil, err
	}
	if m.failovers, err = meter.Int64Counter("triage.steps.failovers",
		metric.WithDescription("Steps that exhausted their retries and failed over")); err != nil {
		return nil, err
	}
	if m.fencedWrites, err = meter.Int64Counter("triage.writes.fenced",
		metric.WithDescription("Writes discarded by the version check")); err != nil {
		return nil, err
	}
	if m.finished, err = meter.Int64Counter("triage.workflows.finished",
		metric.WithDescription("Workflows that reached a terminal status")); err != nil {
		return nil, err
	}
	if m.persistErrors, err = meter.Int64Counter("triage.persistence.errors",
		metric.WithDescription("Loop iterations that failed to reach the state store")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("triage.step.duration",
		metric.WithDescription("Wall time of step attempts"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) stepCompleted(ctx context.Context, step core.StepID, d time.Duration) {
	m.stepsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step.String())))
	m.stepDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("step", step.String()), attribute.Bool("success", true)))
}

func (m *Metrics) stepFailed(ctx context.Context, step core.StepID, d time.Duration, decision Decision, timedOut bool) {
	attrs := metric.WithAttributes(
		attribute.String("step", step.String()),
		attribute.String("decision", string(decision.Action)),
		attribute.Bool("timed_out", timedOut),
	)
	m.stepsFailed.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("step", step.String()), attribute.Bool("success", false)))
	if decision.Action == ActionFailover {
		m.failovers.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step", step.String()),
			attribute.String("target", decision.Next.String()),
		))
	}
}

func (m *Metrics) fenced(ctx context.Context, step core.StepID) {
	m.fencedWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step.String())))
}

func (m *Metrics) workflowFinished(ctx context.Context, status core.Status) {
	m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) persistenceError(ctx context.Context, op string) {
	m.persistErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
