package tui

import "github.com/charmbracelet/lipgloss"

// Styles groups the lipgloss styles used by the chat view.
type Styles struct {
	Header    lipgloss.Style
	ChatMode  lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Status    lipgloss.Style
	Marker    lipgloss.Style
	Prompt    lipgloss.Style
	Help      lipgloss.Style
}

// DefaultStyles returns the built-in palette.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213")).
			Padding(0, 1),
		ChatMode: lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("213")).
			Padding(0, 1),
		User: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
		Assistant: lipgloss.NewStyle().
			Foreground(lipgloss.Color("213")).
			Bold(true),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true),
		Marker: lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true),
		Prompt: lipgloss.NewStyle().
			Foreground(lipgloss.Color("213")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}
