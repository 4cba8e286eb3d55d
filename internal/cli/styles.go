package cli

import "github.com/charmbracelet/lipgloss"

// styles used by command output.
var styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	Header:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Border:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}
