package core

import "github.com/charmbracelet/lipgloss"

// Shared lipgloss styles for the fleet view: one accent color for the
// focused row and the text-input prompt, semantic colors for log rows and
// operation states.
var (
	accent = lipgloss.Color("#EE6FF8")

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(1, 4)

	// Pane headers ("Devices", "Commands", "Operations").
	StatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			PaddingLeft(4).
			PaddingRight(4)

	// Device and command rows.
	ItemStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(accent).
				Bold(true).
				PaddingLeft(2).
				BorderLeft(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(accent)

	// Log and operation rows.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B")).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BE9FD"))

	HelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"})

	// Text-input prompt label.
	FocusedStyle = lipgloss.NewStyle().
			Foreground(accent)

	DocStyle = lipgloss.NewStyle().
			Padding(1, 2, 1, 2)
)
