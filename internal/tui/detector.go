// Package tui renders workflow state, conversations and listings for the
// command line.
package tui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModeRich uses lipgloss styling and markdown rendering.
	ModeRich OutputMode = iota

	// ModePlain uses plain text output.
	ModePlain

	// ModeJSON uses JSON structured output.
	ModeJSON

	// ModeYAML uses YAML structured output.
	ModeYAML

	// ModeQuiet prints only identifiers and results.
	ModeQuiet
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModeRich:
		return "rich"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeYAML:
		return "yaml"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	isTTY     func() bool
}

// NewDetector creates a new output mode detector.
func NewDetector() *Detector {
	return &Detector{isTTY: stdoutIsTTY}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}

	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return ModePlain
	}

	switch strings.ToLower(os.Getenv("TRIAGE_OUTPUT")) {
	case "json":
		return ModeJSON
	case "yaml":
		return ModeYAML
	}

	if os.Getenv("TRIAGE_QUIET") == "1" {
		return ModeQuiet
	}

	if !d.ShouldUseColor() {
		return ModePlain
	}
	return ModeRich
}

// ShouldUseColor determines if color should be used.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor {
		return false
	}

	// NO_COLOR convention
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return d.isTTY()
}

func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the stdout width, or 80 when it is not a terminal.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// ParseOutputMode parses an output mode from string. Empty and unknown
// values yield ok == false.
func ParseOutputMode(s string) (OutputMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "tui":
		return ModeRich, true
	case "plain", "text":
		return ModePlain, true
	case "json":
		return ModeJSON, true
	case "yaml", "yml":
		return ModeYAML, true
	case "quiet":
		return ModeQuiet, true
	default:
		return ModeRich, false
	}
}
