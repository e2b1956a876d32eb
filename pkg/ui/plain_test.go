package ui

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

func snapshot(version uint64, state chatsync.ConnectionState, msgs ...chatsync.Message) chatsync.Snapshot {
	return chatsync.Snapshot{
		Session: chatsync.Session{
			ConversationID:  "c1",
			TransportMode:   chatsync.TransportPush,
			ConnectionState: state,
		},
		Timeline:      msgs,
		Collaborating: true,
		Version:       version,
	}
}

func agentMsg(id, name, content string) chatsync.Message {
	return chatsync.Message{ID: id, AgentType: "analyst", AgentName: name, Content: content, Finalized: true}
}

func TestPlainRendererPrintsEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewPlainRenderer(&buf)
	require.NoError(t, err)

	require.NoError(t, r.Render(snapshot(1, chatsync.StateConnected, agentMsg("m1", "Analyst", "first"))))
	streaming := agentMsg("m2", "Critic", "half")
	streaming.Finalized = false
	s2 := snapshot(2, chatsync.StateConnected, agentMsg("m1", "Analyst", "first"), streaming)
	s2.Typing = []string{"Critic"}
	require.NoError(t, r.Render(s2))
	require.NoError(t, r.Render(snapshot(3, chatsync.StateConnected, agentMsg("m1", "Analyst", "first"), agentMsg("m2", "Critic", "whole"))))

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "connected to c1 (push)"))
	require.Equal(t, 1, strings.Count(out, "first"))
	require.Contains(t, out, "Critic is typing…")
	require.NotContains(t, out, "half")
	require.Contains(t, out, "Critic\nwhole")
}

func TestPlainRendererIgnoresStaleSnapshots(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewPlainRenderer(&buf)
	require.NoError(t, err)

	require.NoError(t, r.Render(snapshot(5, chatsync.StateConnected)))
	require.NoError(t, r.Render(snapshot(4, chatsync.StateConnected, agentMsg("old", "Analyst", "stale"))))
	require.NotContains(t, buf.String(), "stale")
}

func TestPlainRendererDedupesLocalEcho(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewPlainRenderer(&buf)
	require.NoError(t, err)

	local := chatsync.Message{ID: "local-1", IsUser: true, Content: "what about cost?", Finalized: true}
	require.NoError(t, r.Render(snapshot(1, chatsync.StateConnected, local)))
	echo := chatsync.Message{ID: "u9", IsUser: true, Content: "what about cost?", Finalized: true}
	require.NoError(t, r.Render(snapshot(2, chatsync.StateConnected, echo)))
	again := chatsync.Message{ID: "u10", IsUser: true, Content: "what about cost?", Finalized: true}
	require.NoError(t, r.Render(snapshot(3, chatsync.StateConnected, echo, again)))

	require.Equal(t, 2, strings.Count(buf.String(), "what about cost?"))
	require.Contains(t, buf.String(), "You\n")
}

func TestPlainRendererReportsStateAndProgress(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewPlainRenderer(&buf)
	require.NoError(t, err)

	require.NoError(t, r.Render(snapshot(1, chatsync.StateConnected)))
	degraded := snapshot(2, chatsync.StateDegraded)
	degraded.Session.TransportMode = chatsync.TransportPull
	degraded.Consensus = chatsync.ConsensusState{Round: 2, Confidence: 0.7}
	require.NoError(t, r.Render(degraded))

	done := degraded
	done.Version = 3
	done.Status = "completed"
	done.Consensus.Reached = true
	final := chatsync.Message{ID: "consensus_final-3", AgentType: "system", Content: "we agree", Finalized: true, Synthetic: true}
	done.Timeline = []chatsync.Message{final}
	require.NoError(t, r.Render(done))

	out := buf.String()
	require.Contains(t, out, "live updates unavailable, polling c1")
	require.Contains(t, out, "round 2 · confidence 70%")
	require.Contains(t, out, "consensus reached")
	require.Contains(t, out, "conversation completed")
	require.Contains(t, out, "we agree")
}

func TestPlainRendererMarkdown(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewPlainRenderer(&buf, WithMarkdown(true), WithWidth(60))
	require.NoError(t, err)

	require.NoError(t, r.Render(snapshot(1, chatsync.StateConnected, agentMsg("m1", "Analyst", "**bold** point"))))
	out := buf.String()
	require.Contains(t, out, "Analyst\n")
	require.Contains(t, out, "bold")
	require.Contains(t, out, "point")
}

func TestModelAppliesNewerSnapshots(t *testing.T) {
	var sent []string
	m, err := NewModel(func(content string) error {
		sent = append(sent, content)
		return nil
	}, WithColor(false))
	require.NoError(t, err)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, _ = m.Update(SnapshotMsg{Snapshot: snapshot(2, chatsync.StateConnected, agentMsg("m1", "Analyst", "hello"))})
	m = next.(Model)
	next, _ = m.Update(SnapshotMsg{Snapshot: snapshot(1, chatsync.StateConnected)})
	m = next.(Model)

	view := m.View()
	require.Contains(t, view, "connected to c1 (push)")
	require.Contains(t, view, "hello")

	m.input.SetValue("my question")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	require.Equal(t, "", m.input.Value())
	res := cmd()
	next, _ = m.Update(res)
	m = next.(Model)
	require.Equal(t, []string{"my question"}, sent)
	require.NoError(t, m.err)
}
