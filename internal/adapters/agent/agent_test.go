package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

func TestHTTPInvoker_PostsRequest(t *testing.T) {
	t.Parallel()

	var (
		gotPath    string
		gotSession string
		gotTeam    string
		gotBody    core.EvidenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSession = r.Header.Get(SessionHeader)
		gotTeam = r.Header.Get("X-Team")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"output":"{\"logs\":\"l\"}"}`))
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(HTTPConfig{
		Endpoint: srv.URL + "/",
		Timeout:  time.Second,
		Headers:  map[string]string{"X-Team": "sre"},
	}, nil)
	require.NoError(t, err)

	out, err := inv.Invoke(context.Background(), "wf-1", core.AgentEvidence,
		core.EvidenceRequest{Service: "db", MetricsExpr: "errors:rate5m", Range: "1h"})
	require.NoError(t, err)

	assert.Equal(t, `{"logs":"l"}`, out)
	assert.Equal(t, "/agents/evidence", gotPath)
	assert.Equal(t, "wf-1", gotSession)
	assert.Equal(t, "sre", gotTeam)
	assert.Equal(t, "db", gotBody.Service)
	assert.Equal(t, "1h", gotBody.Range)
}

func TestHTTPInvoker_PlainTextReply(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("runbook: restart pool"))
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(HTTPConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	out, err := inv.Invoke(context.Background(), "wf", core.AgentKnowledgeBase, core.KnowledgeBaseRequest{Query: "db"})
	require.NoError(t, err)
	assert.Equal(t, "runbook: restart pool", out)
}

func TestHTTPInvoker_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(HTTPConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "wf", core.AgentTriage, core.TriageRequest{Context: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPInvoker_ContextCancel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	inv, err := NewHTTPInvoker(HTTPConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, "wf", core.AgentSummary, core.SummaryRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPInvoker_RejectsBadEndpoint(t *testing.T) {
	t.Parallel()
	for _, endpoint := range []string{"", "agents:9000", "ftp://agents"} {
		_, err := NewHTTPInvoker(HTTPConfig{Endpoint: endpoint}, nil)
		assert.Error(t, err, endpoint)
	}
}

func TestDemoInvoker_Classify(t *testing.T) {
	t.Parallel()
	inv := NewDemoInvoker()

	tests := []struct {
		incident string
		service  string
		severity core.Severity
	}{
		{"DB outage: primary database down", "db", core.SeverityP1},
		{"Payment API error rate climbing, 5xx", "payment-service", core.SeverityP2},
		{"Login is slow for some users", "auth-service", core.SeverityP3},
		{"Dashboard font looks odd", "platform", core.SeverityP4},
	}
	for _, tt := range tests {
		out, err := inv.Invoke(context.Background(), "wf", core.AgentClassifier, core.ClassifyRequest{Incident: tt.incident})
		require.NoError(t, err)

		c, err := core.ParseClassification(out)
		require.NoError(t, err, out)
		assert.Equal(t, tt.service, c.Service, tt.incident)
		assert.Equal(t, tt.severity, c.Severity, tt.incident)
	}
}

func TestDemoInvoker_Pipeline(t *testing.T) {
	t.Parallel()
	inv := NewDemoInvoker()
	ctx := context.Background()

	ev, err := inv.Invoke(ctx, "wf", core.AgentEvidence, core.EvidenceRequest{Service: "db", MetricsExpr: "errors:rate1m", Range: "30m"})
	require.NoError(t, err)
	report := core.ParseEvidence(ev)
	assert.True(t, report.Structured)
	assert.Len(t, report.KeyFindings, 2)
	assert.Contains(t, report.Metrics, "errors:rate1m over 30m")

	rem, err := inv.Invoke(ctx, "wf", core.AgentRemediation, core.RemediationRequest{
		ClassificationJSON: `{"service":"db","severity":"P1"}`,
	})
	require.NoError(t, err)
	assert.True(t, core.ParseRemediation(rem).HighRisk())

	_, err = inv.Invoke(ctx, "wf", core.AgentSummary, 42)
	assert.Error(t, err)
}

func TestDemoInvoker_Evaluators(t *testing.T) {
	t.Parallel()
	inv := NewDemoInvoker()
	ctx := context.Background()

	tests := []struct {
		name    string
		agent   core.AgentName
		request any
		passed  bool
	}{
		{"clean text", core.AgentToxicityEvaluator, core.ToxicityRequest{Text: "Restart the payment pods."}, true},
		{"insult", core.AgentToxicityEvaluator, core.ToxicityRequest{Text: "Whoever deployed this is an IDIOT"}, false},
		{"grounded answer", core.AgentHallucinationEvaluator, core.HallucinationRequest{
			Reference: "payment-service error rate above SLO",
			Answer:    "The payment service is failing",
		}, true},
		{"unrelated answer", core.AgentHallucinationEvaluator, core.HallucinationRequest{
			Reference: "payment-service error rate above SLO",
			Answer:    "Disk quota on the build cluster",
		}, false},
	}
	for _, tt := range tests {
		out, err := inv.Invoke(ctx, "wf", tt.agent, tt.request)
		require.NoError(t, err, tt.name)
		v, err := core.ParseVerdict(out)
		require.NoError(t, err, out)
		assert.Equal(t, tt.passed, v.Passed, tt.name)
		assert.NotEmpty(t, v.Explanation, tt.name)
	}
}
