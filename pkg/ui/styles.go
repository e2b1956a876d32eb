package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// Styles groups the lipgloss styles used by both renderers. A zero style
// renders text unchanged, which is what the uncolored variant relies on.
type Styles struct {
	color bool

	User      lipgloss.Style
	Agent     lipgloss.Style
	System    lipgloss.Style
	Status    lipgloss.Style
	Typing    lipgloss.Style
	Consensus lipgloss.Style
	Error     lipgloss.Style
	Timestamp lipgloss.Style
	Input     lipgloss.Style
}

func NewStyles(color bool) Styles {
	if !color {
		return Styles{}
	}
	return Styles{
		color:     true,
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Agent:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		System:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118")),
		Status:    lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		Typing:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("246")),
		Consensus: lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")),
	}
}

// Author returns the styled display name of a message author. Agent colors
// sent by the backend win over the default agent style.
func (s Styles) Author(m chatsync.Message) string {
	name := m.DisplayName()
	switch {
	case m.IsUser:
		return s.User.Render(name)
	case m.Synthetic:
		return s.System.Render(name)
	case s.color && m.AgentColor != "":
		return s.Agent.Foreground(lipgloss.Color(m.AgentColor)).Render(name)
	default:
		return s.Agent.Render(name)
	}
}
