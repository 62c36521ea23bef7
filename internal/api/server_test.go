package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/adapters/state"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/incidents"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/testutil"
)

type fixture struct {
	server   *Server
	engine   *workflow.Engine
	registry *incidents.Registry
	bus      *events.EventBus
}

func newFixture(t *testing.T, opts ...ServerOption) *fixture {
	t.Helper()

	metrics, err := workflow.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	bus := events.New(64)
	engine, err := workflow.New(workflow.Config{
		Registry: workflow.RegistryConfig{
			DefaultTimeout: 2 * time.Second,
		},
	}, workflow.Deps{
		Store:   state.NewMemoryStore(),
		Invoker: testutil.NewMockInvoker(),
		Events:  bus,
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
		bus.Close()
	})

	registry := incidents.NewRegistry(nil)
	opts = append([]ServerOption{WithEventBus(bus)}, opts...)
	return &fixture{
		server:   NewServer(engine, registry, opts...),
		engine:   engine,
		registry: registry,
		bus:      bus,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTriageLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/triage/wf-api", `{"incident":"DB outage: checkout failing"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ack := decode[AckResponse](t, rec)
	assert.Equal(t, AckResponse{WorkflowID: "wf-api", Result: workflow.AckStarted}, ack)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/triage/wf-api/state", "")
		return decode[workflow.StateView](t, rec).Status == core.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/triage/wf-api/state", "")
	view := decode[workflow.StateView](t, rec)
	assert.Contains(t, view.ClassificationJSON, "db")
	assert.Equal(t, "wf-api", view.AgentSessionID)
	assert.Equal(t, workflow.AgentMemoryMode, view.AgentMemoryMode)

	rec = f.do(t, http.MethodGet, "/triage/wf-api", "")
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]core.ConversationEntry](t, rec)
	require.Len(t, convs, 8)
	assert.Equal(t, "DB outage: checkout failing", convs[0].Content)

	rec = f.do(t, http.MethodPost, "/triage/wf-api", `{"incident":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, core.CodeTerminalState, decode[errorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/triage/wf-api/repeat", `{"message":"hi","times":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/triage/wf-api/fail", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/triage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]core.WorkflowSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, core.StatusCompleted, list[0].Status)
}

func TestUnknownWorkflow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/triage/nobody/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[workflow.StateView](t, rec)
	assert.Equal(t, core.StatusEmpty, view.Status)
	assert.Greater(t, view.Memory.HeapUsedMB, 0.0)

	rec = f.do(t, http.MethodGet, "/triage/nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = f.do(t, http.MethodPost, "/triage/nobody/repeat", `{"message":"x","times":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.AckNoState, decode[AckResponse](t, rec).Result)

	rec = f.do(t, http.MethodPost, "/triage/nobody/resume", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.CodeWorkflowNotFound, decode[errorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/triage/nobody/fail", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
		code string
	}{
		{"missing incident", "/triage/wf-v", `{}`, core.CodeEmptyIncident},
		{"empty body", "/triage/wf-v", "", core.CodeEmptyIncident},
		{"malformed json", "/triage/wf-v", `{"incident":`, core.CodeInvalidRequest},
		{"generated id disabled", "/triage", `{"incident":"x"}`, core.CodeEmptyWorkflowID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestStartGeneratedID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithIDGenerator(func() string { return "generated-1" }))

	rec := f.do(t, http.MethodPost, "/triage", `{"incident":"auth errors"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "generated-1", decode[AckResponse](t, rec).WorkflowID)
}

func TestIncidentRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.registry.Apply(events.NewWorkflowStartedEvent("inc-1", "payments down"))
	ev := events.NewWorkflowStateUpdatedEvent("inc-1", string(core.StatusClassified), "gather_evidence", "classify", 2)
	ev.Service, ev.Severity = "payment-service", "P1"
	f.registry.Apply(ev)
	f.registry.Apply(events.NewWorkflowStartedEvent("inc-2", "slow login"))

	rec := f.do(t, http.MethodGet, "/incidents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]incidents.Incident](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/incidents/critical", "")
	critical := decode[[]incidents.Incident](t, rec)
	require.Len(t, critical, 1)
	assert.Equal(t, incidents.TeamSREOnCall, critical[0].Team)

	rec = f.do(t, http.MethodGet, "/incidents/service/Payment-Service", "")
	assert.Len(t, decode[[]incidents.Incident](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/incidents/severity/p1", "")
	assert.Len(t, decode[[]incidents.Incident](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/incidents/active", "")
	assert.Len(t, decode[[]incidents.Incident](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/incidents/stats", "")
	stats := decode[incidents.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.P1)

	rec = f.do(t, http.MethodGet, "/incidents/inc-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "slow login", decode[incidents.Incident](t, rec).Title)

	rec = f.do(t, http.MethodGet, "/incidents/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluationRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/evaluations", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store := evaluation.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), evaluation.Result{
		WorkflowID: "wf-clean",
		Checks: map[evaluation.Check]evaluation.Outcome{
			evaluation.CheckSummaryToxicity: {Verdict: core.Verdict{Passed: true}},
		},
		EvaluatedAt: now,
	}))
	require.NoError(t, store.Save(context.Background(), evaluation.Result{
		WorkflowID: "wf-toxic",
		Checks: map[evaluation.Check]evaluation.Outcome{
			evaluation.CheckSummaryToxicity: {Verdict: core.Verdict{Passed: false, Explanation: "insult"}},
		},
		EvaluatedAt: now.Add(time.Minute),
	}))

	f = newFixture(t, WithEvaluations(store))
	rec = f.do(t, http.MethodGet, "/evaluations", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[[]evaluation.Result](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, core.WorkflowID("wf-toxic"), all[0].WorkflowID)

	rec = f.do(t, http.MethodGet, "/evaluations/failures", "")
	failed := decode[[]evaluation.Result](t, rec)
	require.Len(t, failed, 1)
	assert.Equal(t, core.WorkflowID("wf-toxic"), failed[0].WorkflowID)

	rec = f.do(t, http.MethodGet, "/evaluations/stats", "")
	stats := decode[evaluation.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.AllPassed)
	assert.Equal(t, 1, stats.WithFailures)
	assert.Equal(t, 1, stats.PassCounts[evaluation.CheckSummaryToxicity])

	rec = f.do(t, http.MethodGet, "/evaluations/workflow/wf-clean", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[evaluation.Result](t, rec).Passed())

	rec = f.do(t, http.MethodGet, "/evaluations/workflow/wf-missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithVersion("1.2.3"),
		WithSystemMetrics(diagnostics.NewSystemMetricsCollector(t.TempDir(), diagnostics.NewMemoryCollector())))

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.EqualValues(t, 0, body["runningWorkflows"])
	assert.Contains(t, body, "system")
	assert.Contains(t, body, "events")
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tel := diagnostics.NewTelemetry()
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	counter, err := tel.Meter("test").Int64Counter("triage.steps.completed")
	require.NoError(t, err)
	counter.Add(context.Background(), 4)

	f = newFixture(t, WithTelemetry(tel))
	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Metrics diagnostics.MetricsSnapshot `json:"metrics"`
	}](t, rec)
	assert.Equal(t, 4.0, body.Metrics.Total("triage.steps.completed"))
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithCORSOrigins([]string{"https://dashboard.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/triage/wf-1", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/triage/wf-1", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSSEStreamsWorkflowEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?workflow=wf-sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	f.bus.Publish(events.NewWorkflowStartedEvent("other", "ignored"))
	f.bus.Publish(events.NewWorkflowStartedEvent("wf-sse", "disk full"))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: "+events.TypeWorkflowStarted) {
			break
		}
	}
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, data, `"workflow_id":"wf-sse"`)
	assert.Contains(t, data, `"incident":"disk full"`)
}
