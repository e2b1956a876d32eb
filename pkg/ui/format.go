package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

func sessionLine(s chatsync.Session) string {
	switch s.ConnectionState {
	case chatsync.StateDegraded:
		return fmt.Sprintf("live updates unavailable, polling %s", s.ConversationID)
	case chatsync.StateConnected:
		return fmt.Sprintf("connected to %s (%s)", s.ConversationID, s.TransportMode)
	case chatsync.StateConnecting:
		return fmt.Sprintf("connecting to %s", s.ConversationID)
	case chatsync.StateError:
		return "connection error"
	case chatsync.StateClosed:
		return "disconnected"
	default:
		return string(s.ConnectionState)
	}
}

func typingLine(agents []string) string {
	switch len(agents) {
	case 0:
		return ""
	case 1:
		return agents[0] + " is typing…"
	default:
		return strings.Join(agents, ", ") + " are typing…"
	}
}

func consensusLine(c chatsync.ConsensusState) string {
	if c.Round == 0 && c.Confidence == 0 && !c.Reached {
		return ""
	}
	line := fmt.Sprintf("round %d · confidence %.0f%%", c.Round, c.Confidence*100)
	if c.Reached {
		line += " · consensus reached"
	}
	return line
}

// markdown renders message bodies; a nil renderer passes text through.
type markdown struct {
	r *glamour.TermRenderer
}

func newMarkdown(enabled, color bool, width int) (markdown, error) {
	if !enabled {
		return markdown{}, nil
	}
	style := "notty"
	if color {
		style = "dark"
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown{}, err
	}
	return markdown{r: r}, nil
}

func (m markdown) render(content string) string {
	if m.r == nil {
		return content
	}
	out, err := m.r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func messageBody(m chatsync.Message, md markdown) string {
	body := md.render(m.Content)
	if m.ImageURL != "" {
		if body != "" {
			body += "\n"
		}
		body += "[image] " + m.ImageURL
	}
	return body
}
