package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/adapters/state"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/testutil"
)

// writeTestConfig writes a config using a SQLite store under dir and returns
// its path.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`log:
  level: error
  format: text
state:
  backend: sqlite
  path: %s
engine:
  step_timeout: 5s
  max_retries: 1
  persist_backoff: 1ms
  resume_on_start: false
agents:
  mode: demo
server:
  addr: "127.0.0.1:0"
  shutdown_timeout: 5s
`, filepath.Join(dir, "state.db"))
	path := filepath.Join(dir, "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

// execute runs the root command with fresh flag state and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), stdin, args...)
}

func executeContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	cfgFile, logLevel, logFormat = "", "info", "auto"
	noColor, quiet = false, false
	runID, runOutput, runDetach = "", "", false
	workflowsOutput, repeatMessage, repeatTimes, resumeDetach, failDetach = "", "", 1, false, false
	initForce, serveAddr = false, ""

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, code, domErr.Code)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-01-15")
	defer SetVersion("dev", "none", "unknown")

	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "triage v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2026-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	out, err := execute(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file: .triage.yaml")

	data, err := os.ReadFile(filepath.Join(dir, ".triage.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
	assert.DirExists(t, filepath.Join(dir, filepath.Dir(config.DefaultStatePath)))

	_, err = execute(t, "", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "", "init", "--force")
	require.NoError(t, err)
}

func TestRunCommand_CompletesAndPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	out, err := execute(t, "", "--config", cfg, "run", "--id", "wf-1", "-o", "json",
		"database", "outage", "for", "all", "users")
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "COMPLETED", view["status"])
	assert.Equal(t, "database outage for all users", view["incident"])
	assert.Contains(t, view["summaryText"], "Incident summary")

	// A second process sees the committed record.
	out, err = execute(t, "", "--config", cfg, "state", "wf-1", "-o", "yaml")
	require.NoError(t, err)
	var y map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &y))
	assert.Equal(t, "COMPLETED", y["status"])

	out, err = execute(t, "", "--config", cfg, "conversations", "wf-1", "-o", "json")
	require.NoError(t, err)
	var entries []core.ConversationEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, core.RoleUser, entries[0].Role)
	assert.Equal(t, "database outage for all users", entries[0].Content)

	out, err = execute(t, "", "--config", cfg, "list", "-o", "json")
	require.NoError(t, err)
	var list []core.WorkflowSummary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, core.WorkflowID("wf-1"), list[0].WorkflowID)

	_, err = execute(t, "", "--config", cfg, "run", "--id", "wf-1", "again")
	requireCode(t, err, core.CodeTerminalState)

	_, err = execute(t, "", "--config", cfg, "repeat", "wf-1")
	requireCode(t, err, core.CodeTerminalState)

	_, err = execute(t, "", "--config", cfg, "resume", "wf-1")
	requireCode(t, err, core.CodeTerminalState)

	assert.FileExists(t, filepath.Join(dir, "state.db.bak"))
}

func TestRunCommand_ReadsStdin(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "checkout latency degraded\n", "--config", cfg, "run", "-o", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED\n", out)

	_, err = execute(t, "   ", "--config", cfg, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incident text is required")
}

func TestStateCommand_UnknownIDIsEmpty(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "", "--config", cfg, "state", "never-started", "-o", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "EMPTY\n", out)

	out, err = execute(t, "", "--config", cfg, "conversations", "never-started", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	out, err = execute(t, "", "--config", cfg, "repeat", "never-started", "-o", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "no-state\n", out)

	_, err = execute(t, "", "--config", cfg, "resume", "never-started")
	requireCode(t, err, core.CodeWorkflowNotFound)
}

func TestRepeatThenResume(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), testutil.NewTestRecord("wf-9")))
	require.NoError(t, store.Close())

	out, err := execute(t, "", "--config", cfg, "repeat", "wf-9", "-m", "checking dashboards", "-n", "2", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"workflowId":"wf-9","result":"ok"}`, out)

	out, err = execute(t, "", "--config", cfg, "state", "wf-9", "-o", "json")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, true, view["paused"])
	assert.Equal(t, "PREPARED", view["status"])

	out, err = execute(t, "", "--config", cfg, "resume", "wf-9", "-o", "json")
	require.NoError(t, err)
	view = nil
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "COMPLETED", view["status"])
	assert.Equal(t, false, view["paused"])
}

func TestFailCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), testutil.NewTestRecord("wf-10")))
	require.NoError(t, store.Close())

	out, err := execute(t, "", "--config", cfg, "fail", "wf-10", "-o", "json")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "INTERRUPTED", view["status"])

	_, err = execute(t, "", "--config", cfg, "fail", "wf-10")
	requireCode(t, err, core.CodeTerminalState)
}

func TestPlainOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), testutil.NewTestRecord("wf-plain", testutil.Paused())))
	require.NoError(t, store.Close())

	out, err := execute(t, "", "--config", cfg, "state", "wf-plain", "-o", "plain")
	require.NoError(t, err)
	got := testutil.ScrubOutput(out, dir)
	assert.True(t, strings.HasPrefix(got,
		"Workflow    wf-plain\nStatus      PREPARED (paused)\nStep        classify\nVersion     1\n"), got)
	assert.Contains(t, got, "Updated     [TIME]\n")
	assert.Contains(t, got, "== Incident ==\nDB outage: checkout failing")

	out, err = execute(t, "", "--config", cfg, "list", "-o", "plain")
	require.NoError(t, err)
	assert.Equal(t,
		"ID        STATUS             STEP      UPDATED           INCIDENT\n"+
			"wf-plain  PREPARED (paused)  classify  [TIME]  DB outage: checkout failing",
		testutil.ScrubOutput(out, dir))

	out, err = execute(t, "", "--config", cfg, "run", "--detach", "-o", "plain", "cache", "stampede")
	require.NoError(t, err)
	assert.Equal(t, "[UUID]: started", testutil.ScrubOutput(out, dir))
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), testutil.NewTestRecord("wf-srv", testutil.Completed())))
	require.NoError(t, store.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = executeContext(t, ctx, "", "--config", cfg, "serve", "--addr", "127.0.0.1:0")
	require.NoError(t, err)
}

func TestOutputFlagValidation(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	_, err := execute(t, "", "--config", cfg, "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output mode")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  mode: carrier-pigeon\n"), 0o600))

	_, err := execute(t, "", "--config", path, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents.mode")
}

func TestNewInvoker(t *testing.T) {
	cfg := &config.Config{Agents: config.AgentsConfig{Mode: "demo"}}
	inv, err := newInvoker(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, inv)

	cfg.Agents = config.AgentsConfig{Mode: "http", Endpoint: "http://agents.internal:9000", RequestTimeout: "5s"}
	inv, err = newInvoker(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, inv)

	cfg.Agents.Mode = "grpc"
	_, err = newInvoker(cfg, nil)
	require.Error(t, err)
}

func TestConfigSecrets(t *testing.T) {
	cfg := &config.Config{
		Agents: config.AgentsConfig{Headers: map[string]string{"Authorization": "Bearer abc123xyz"}},
		State:  config.StateConfig{DSN: "postgres://triage:pa55word@db:5432/triage"},
	}
	assert.ElementsMatch(t, []string{"Bearer abc123xyz", "pa55word"}, configSecrets(cfg))

	assert.Empty(t, configSecrets(&config.Config{}))
}

func TestIncidentText(t *testing.T) {
	text, err := incidentText(strings.NewReader("ignored"), []string{"db", "down"})
	require.NoError(t, err)
	assert.Equal(t, "db down", text)

	text, err = incidentText(strings.NewReader("  auth errors\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "auth errors", text)
}

func TestEvaluationPath(t *testing.T) {
	cfg := &config.Config{State: config.StateConfig{Path: "/var/lib/triage/state.db"}}
	assert.Equal(t, "/var/lib/triage/evaluations.json", evaluationPath(cfg))

	cfg.Evaluation.Path = "/tmp/evals.json"
	assert.Equal(t, "/tmp/evals.json", evaluationPath(cfg))

	assert.Equal(t, filepath.Join(filepath.Dir(config.DefaultStatePath), "evaluations.json"),
		evaluationPath(&config.Config{}))
}
