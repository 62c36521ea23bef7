package tui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
)

func TestOutputMode_String(t *testing.T) {
	assert.Equal(t, "rich", ModeRich.String())
	assert.Equal(t, "yaml", ModeYAML.String())
	assert.Equal(t, "unknown", OutputMode(99).String())
}

func TestParseOutputMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
		ok   bool
	}{
		{"json", ModeJSON, true},
		{"YAML", ModeYAML, true},
		{"yml", ModeYAML, true},
		{"plain", ModePlain, true},
		{"quiet", ModeQuiet, true},
		{"", ModeRich, false},
		{"xml", ModeRich, false},
	}
	for _, tt := range tests {
		got, ok := ParseOutputMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestDetector_Detect(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("TRIAGE_OUTPUT", "")
	t.Setenv("TRIAGE_QUIET", "")
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "xterm")

	tty := &Detector{isTTY: func() bool { return true }}
	assert.Equal(t, ModeRich, tty.Detect())
	assert.Equal(t, ModePlain, tty.NoColor(true).Detect())

	pipe := &Detector{isTTY: func() bool { return false }}
	assert.Equal(t, ModePlain, pipe.Detect())
	assert.Equal(t, ModeJSON, pipe.ForceMode(ModeJSON).Detect())

	t.Setenv("TRIAGE_OUTPUT", "yaml")
	assert.Equal(t, ModeYAML, (&Detector{isTTY: func() bool { return true }}).Detect())

	t.Setenv("CI", "true")
	assert.Equal(t, ModePlain, (&Detector{isTTY: func() bool { return true }}).Detect())
}

func TestDetector_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	d := &Detector{isTTY: func() bool { return true }}
	assert.False(t, d.ShouldUseColor())
}

func completedView() workflow.StateView {
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return workflow.StateView{
		Status:          core.StatusCompleted,
		Incident:        "db latency spike",
		TriageText:      "Connection pool exhausted",
		SummaryText:     "# Summary\nPool resized.",
		ContextEntries:  9,
		Version:         8,
		AgentMemoryMode: workflow.AgentMemoryMode,
		UpdatedAt:       &updated,
	}
}

func TestRenderer_StatePlain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)

	require.NoError(t, r.State("wf-1", completedView()))

	out := buf.String()
	assert.Contains(t, out, "Workflow    wf-1")
	assert.Contains(t, out, "Status      COMPLETED")
	assert.Contains(t, out, "Version     8")
	assert.Contains(t, out, "== Triage ==\nConnection pool exhausted")
	assert.Contains(t, out, "== Summary ==\n# Summary\nPool resized.")
	assert.NotContains(t, out, "Remediation")
}

func TestRenderer_StateEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)

	require.NoError(t, r.State("ghost", workflow.EmptyStateView(diagnostics.MemorySnapshot{})))

	out := buf.String()
	assert.Contains(t, out, "EMPTY")
	assert.NotContains(t, out, "Version")
}

func TestRenderer_StateRich(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModeRich)

	require.NoError(t, r.State("wf-1", completedView()))

	out := buf.String()
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Pool")
	assert.Contains(t, out, "resized")
}

func TestRenderer_StateStructured(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeJSON).State("wf-1", completedView()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "COMPLETED", decoded["status"])
	assert.EqualValues(t, 8, decoded["version"])

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeYAML).State("wf-1", completedView()))

	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, "COMPLETED", y["status"])
	assert.Equal(t, "Connection pool exhausted", y["triage_text"])
}

func TestRenderer_Conversations(t *testing.T) {
	entries := []core.ConversationEntry{
		{Role: core.RoleSystem, Content: "Service triage session started"},
		{Role: core.RoleUser, Content: "db latency spike"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModePlain).Conversations(entries))
	assert.Equal(t, "[1] system\nService triage session started\n\n[2] user\ndb latency spike\n\n", buf.String())

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeQuiet).Conversations(entries))
	assert.Equal(t, "2\n", buf.String())
}

func TestRenderer_Workflows(t *testing.T) {
	list := []core.WorkflowSummary{
		{WorkflowID: "wf-1", Status: core.StatusTriaged, Step: core.StepQueryKnowledgeBase, Paused: true, Incident: "db latency\nsecond line"},
		{WorkflowID: "wf-2", Status: core.StatusCompleted, Incident: "auth errors"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModePlain).Workflows(list))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "TRIAGED (paused)")
	assert.Contains(t, out, "query_knowledge_base")
	assert.NotContains(t, out, "second line")

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModePlain).Workflows(nil))
	assert.Equal(t, "No workflows found.\n", buf.String())

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeJSON).Workflows(list))
	assert.Contains(t, buf.String(), `"step": "query_knowledge_base"`)
}

func TestRenderer_Ack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModePlain).Ack("wf-1", workflow.AckStarted))
	assert.Equal(t, "wf-1: started\n", buf.String())

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeJSON).Ack("wf-1", workflow.AckOK))
	assert.JSONEq(t, `{"workflowId":"wf-1","result":"ok"}`, buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
