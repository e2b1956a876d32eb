package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// SnapshotMsg delivers a new engine snapshot to the TUI.
type SnapshotMsg struct {
	Snapshot chatsync.Snapshot
}

// SubmitFunc sends a user message typed into the input line.
type SubmitFunc func(content string) error

type submitResultMsg struct {
	err error
}

// Model is the live timeline view: a scrolling viewport over the merged
// timeline, a status footer and an input line.
type Model struct {
	styles   Styles
	md       markdown
	viewport viewport.Model
	input    textinput.Model
	submit   SubmitFunc

	snap     chatsync.Snapshot
	rendered map[string]renderedMessage
	err      error
	width    int
}

type renderedMessage struct {
	content string
	out     string
}

func NewModel(submit SubmitFunc, opts ...PlainOption) (Model, error) {
	cfg := plainConfig{color: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	md, err := newMarkdown(cfg.markdown, cfg.color, cfg.width)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message and press enter"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	vp := viewport.New(80, 20)
	return Model{
		styles:   NewStyles(cfg.color),
		md:       md,
		viewport: vp,
		input:    ti,
		submit:   submit,
		rendered: map[string]renderedMessage{},
		width:    80,
	}, nil
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.input.Width = ev.Width - 4
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-5, 3)
		m.viewport.SetContent(m.renderTimeline())
		return m, nil

	case tea.KeyMsg:
		switch ev.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			content := m.input.Value()
			if strings.TrimSpace(content) == "" || m.submit == nil {
				return m, nil
			}
			m.input.SetValue("")
			submit := m.submit
			return m, func() tea.Msg { return submitResultMsg{err: submit(content)} }
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case SnapshotMsg:
		if ev.Snapshot.Version <= m.snap.Version {
			return m, nil
		}
		atBottom := m.viewport.AtBottom()
		m.snap = ev.Snapshot
		m.viewport.SetContent(m.renderTimeline())
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, nil

	case submitResultMsg:
		m.err = ev.err
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	header := m.styles.Status.Render(sessionLine(m.snap.Session))
	if m.snap.Status != "" {
		header += m.styles.Timestamp.Render(" · " + m.snap.Status)
	}

	footer := make([]string, 0, 3)
	if t := typingLine(m.snap.Typing); t != "" {
		footer = append(footer, m.styles.Typing.Render(t))
	}
	if c := consensusLine(m.snap.Consensus); c != "" {
		footer = append(footer, m.styles.Consensus.Render(c))
	}
	if m.err != nil {
		footer = append(footer, m.styles.Error.Render("send failed: "+m.err.Error()))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		strings.Join(footer, "  "),
		m.styles.Input.Render(m.input.View()),
	)
}

// renderTimeline renders every message, streaming ones included. Finalized
// bodies are cached by id since markdown rendering is slow.
func (m Model) renderTimeline() string {
	var b strings.Builder
	for _, msg := range m.snap.Timeline {
		header := m.styles.Author(msg)
		if !msg.Finalized {
			header += m.styles.Typing.Render(" (streaming)")
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", header, m.body(msg))
	}
	return b.String()
}

func (m Model) body(msg chatsync.Message) string {
	if !msg.Finalized {
		return msg.Content
	}
	if r, ok := m.rendered[msg.ID]; ok && r.content == msg.Content {
		return r.out
	}
	out := messageBody(msg, m.md)
	m.rendered[msg.ID] = renderedMessage{content: msg.Content, out: out}
	return out
}

// ForwardSnapshots returns a callback that injects snapshots into p, for use
// with redisstream.Follower.Run.
func ForwardSnapshots(p *tea.Program) func(chatsync.Snapshot) error {
	return func(snap chatsync.Snapshot) error {
		p.Send(SnapshotMsg{Snapshot: snap})
		return nil
	}
}
