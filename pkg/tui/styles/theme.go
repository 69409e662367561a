package styles

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette and base styles for the TUI.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color

	Border        lipgloss.Style
	Title         lipgloss.Style
	Label         lipgloss.Style
	StatusRunning lipgloss.Style
	StatusDead    lipgloss.Style
	StatusPending lipgloss.Style
	Keybind       lipgloss.Style
}

func DefaultTheme() Theme {
	primary := lipgloss.Color("#06B6D4") // Cyan
	success := lipgloss.Color("#22C55E") // Green
	warning := lipgloss.Color("#EAB308") // Yellow
	errorC := lipgloss.Color("#EF4444")  // Red
	muted := lipgloss.Color("#6B7280")   // Gray
	text := lipgloss.Color("#F9FAFB")    // White
	textDim := lipgloss.Color("#9CA3AF") // Light gray

	return Theme{
		Primary: primary,
		Success: success,
		Warning: warning,
		Error:   errorC,
		Muted:   muted,
		Text:    text,
		TextDim: textDim,

		Border: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(text),

		Label: lipgloss.NewStyle().
			Foreground(textDim),

		StatusRunning: lipgloss.NewStyle().
			Foreground(success).
			Bold(true),

		StatusDead: lipgloss.NewStyle().
			Foreground(errorC).
			Bold(true),

		StatusPending: lipgloss.NewStyle().
			Foreground(warning),

		Keybind: lipgloss.NewStyle().
			Foreground(primary),
	}
}
