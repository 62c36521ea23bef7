package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red

	ColorText      = lipgloss.Color("#E5E7EB") // Light gray
	ColorTextMuted = lipgloss.Color("#9CA3AF") // Muted gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
)

var (
	// HeaderStyle is the style for section headers.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// LabelStyle is the style for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Width(12)

	// BoxStyle is the style for containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	CompletedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	PausedStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	// Conversation roles
	SystemRoleStyle    = lipgloss.NewStyle().Foreground(ColorTextMuted).Bold(true)
	UserRoleStyle      = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	AssistantRoleStyle = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
)

// StatusStyle returns the style for a workflow status.
func StatusStyle(s core.Status) lipgloss.Style {
	switch s {
	case core.StatusCompleted:
		return CompletedStyle
	case core.StatusInterrupted:
		return FailedStyle
	case core.StatusEmpty:
		return MutedStyle
	default:
		return RunningStyle
	}
}

// RoleStyle returns the style for a conversation role.
func RoleStyle(role string) lipgloss.Style {
	switch role {
	case core.RoleUser:
		return UserRoleStyle
	case core.RoleAssistant:
		return AssistantRoleStyle
	default:
		return SystemRoleStyle
	}
}
