package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"gopkg.in/yaml.v3"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
)

// incidentPreview bounds the incident column of workflow listings.
const incidentPreview = 60

// Renderer writes command results in one output mode.
type Renderer struct {
	out   io.Writer
	mode  OutputMode
	width int
	md    *glamour.TermRenderer
}

// NewRenderer creates a renderer. Rich mode renders stage texts as markdown.
func NewRenderer(out io.Writer, mode OutputMode) *Renderer {
	r := &Renderer{out: out, mode: mode, width: TerminalWidth()}
	if mode == ModeRich {
		md, err := glamour.NewTermRenderer(
			glamour.WithStyles(styles.DraculaStyleConfig),
			glamour.WithWordWrap(r.width),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Mode returns the renderer output mode.
func (r *Renderer) Mode() OutputMode { return r.mode }

// Ack prints the reply to a command.
func (r *Renderer) Ack(id core.WorkflowID, ack workflow.Ack) error {
	switch r.mode {
	case ModeJSON, ModeYAML:
		return r.structured(map[string]string{"workflowId": string(id), "result": string(ack)})
	case ModeQuiet:
		_, err := fmt.Fprintln(r.out, ack)
		return err
	case ModeRich:
		_, err := fmt.Fprintf(r.out, "%s %s\n", HeaderStyle.Render(string(id)), RunningStyle.Render(string(ack)))
		return err
	default:
		_, err := fmt.Fprintf(r.out, "%s: %s\n", id, ack)
		return err
	}
}

// State prints a state view.
func (r *Renderer) State(id core.WorkflowID, v workflow.StateView) error {
	switch r.mode {
	case ModeJSON, ModeYAML:
		return r.structured(v)
	case ModeQuiet:
		_, err := fmt.Fprintln(r.out, v.Status)
		return err
	}

	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		if r.mode == ModeRich {
			b.WriteString(LabelStyle.Render(label))
		} else {
			fmt.Fprintf(&b, "%-12s", label)
		}
		b.WriteString(value)
		b.WriteByte('\n')
	}

	status := string(v.Status)
	if r.mode == ModeRich {
		status = StatusStyle(v.Status).Render(status)
		if v.Paused {
			status += " " + PausedStyle.Render("(paused)")
		}
	} else if v.Paused {
		status += " (paused)"
	}

	field("Workflow", string(id))
	field("Status", status)
	if v.IsEmpty() {
		return r.flush(b.String())
	}
	field("Step", v.Step)
	field("Version", strconv.FormatInt(v.Version, 10))
	field("Context", fmt.Sprintf("%d entries, %d chars", v.ContextEntries, v.ApproxStateChars))
	if v.UpdatedAt != nil {
		field("Updated", v.UpdatedAt.Format(time.RFC3339))
	}
	field("Last error", v.LastError)

	sections := []struct{ title, body string }{
		{"Incident", v.Incident},
		{"Classification", v.ClassificationJSON},
		{"Triage", v.TriageText},
		{"Knowledge base", v.KnowledgeBaseResult},
		{"Remediation", v.RemediationText},
		{"Summary", v.SummaryText},
	}
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(r.section(s.title, s.body))
	}
	return r.flush(b.String())
}

// Conversations prints a conversation log.
func (r *Renderer) Conversations(entries []core.ConversationEntry) error {
	switch r.mode {
	case ModeJSON, ModeYAML:
		return r.structured(entries)
	case ModeQuiet:
		_, err := fmt.Fprintln(r.out, len(entries))
		return err
	}

	var b strings.Builder
	for i, e := range entries {
		role := fmt.Sprintf("[%d] %s", i+1, e.Role)
		if r.mode == ModeRich {
			role = RoleStyle(e.Role).Render(role)
		}
		b.WriteString(role)
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(e.Content, "\n"))
		b.WriteString("\n\n")
	}
	return r.flush(b.String())
}

// Workflows prints workflow summaries as a table.
func (r *Renderer) Workflows(list []core.WorkflowSummary) error {
	switch r.mode {
	case ModeJSON, ModeYAML:
		return r.structured(list)
	case ModeQuiet:
		for _, s := range list {
			if _, err := fmt.Fprintln(r.out, s.WorkflowID); err != nil {
				return err
			}
		}
		return nil
	}

	if len(list) == 0 {
		_, err := fmt.Fprintln(r.out, "No workflows found.")
		return err
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTEP\tUPDATED\tINCIDENT")
	for _, s := range list {
		status := string(s.Status)
		if s.Paused {
			status += " (paused)"
		}
		step := s.Step.String()
		if step == "" {
			step = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.WorkflowID, status, step,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
			truncate(firstLine(s.Incident), incidentPreview))
	}
	return tw.Flush()
}

func (r *Renderer) section(title, body string) string {
	if r.mode != ModeRich {
		return fmt.Sprintf("== %s ==\n%s\n", title, strings.TrimRight(body, "\n"))
	}
	rendered := body
	if r.md != nil {
		if out, err := r.md.Render(body); err == nil {
			rendered = strings.Trim(out, "\n")
		}
	}
	return HeaderStyle.Render(title) + "\n" + BoxStyle.Render(rendered) + "\n"
}

func (r *Renderer) structured(v any) error {
	if r.mode == ModeYAML {
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) flush(s string) error {
	_, err := io.WriteString(r.out, s)
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
