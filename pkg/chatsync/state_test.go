package chatsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func finalMsg(id, content string) Message {
	return Message{ID: id, AgentType: "analyst", Content: content, Finalized: true}
}

func TestPollReplacesLogOnlyWhenCountDiffers(t *testing.T) {
	st := newSyncState("c1")
	st.seed([]Message{finalMsg("m1", "one")})
	require.Equal(t, 1, st.lastObserved)

	// same count: the differing content is not picked up
	require.False(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "edited")}}))
	m, _ := st.log.Get("m1")
	require.Equal(t, "one", m.Content)

	require.True(t, st.applyPoll(PollResult{Messages: []Message{
		finalMsg("m1", "one"), finalMsg("m2", "two"), finalMsg("m3", "three"),
	}}))
	require.Equal(t, 3, st.log.Len())
	require.Equal(t, 3, st.lastObserved)
}

func TestTerminalPollStatusStopsFurtherChanges(t *testing.T) {
	st := newSyncState("c1")
	st.collaborating = true
	require.True(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "one")}, Status: "completed"}))
	require.True(t, st.terminal)
	require.False(t, st.collaborating)
	require.Equal(t, "completed", st.status)

	require.False(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "one"), finalMsg("m2", "two")}}))
	require.Equal(t, 1, st.log.Len())
	require.True(t, IsTerminalStatus(" Concluded "))
	require.False(t, IsTerminalStatus("active"))
}

func TestPollErrorsAfterTerminalStatusAreIgnored(t *testing.T) {
	st := newSyncState("c1")
	require.True(t, st.applyState(Frame{Kind: FrameState, Source: TransportPull, State: StateDegraded}))
	require.True(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "one")}, Status: "completed"}))

	require.False(t, st.applyState(Frame{Kind: FrameState, Source: TransportPull, State: StateError, Err: "503"}))
	require.Equal(t, StateDegraded, st.session.ConnectionState)
	require.Equal(t, TransportPull, st.session.TransportMode)
}

func TestDegradeDropsInFlightEntries(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"one"}}`,
		`{"type":"agent_message_start","data":{"id":"m2","agent_type":"critic"}}`,
	)
	require.True(t, st.applyState(Frame{Kind: FrameState, Source: TransportPush, State: StateConnected}))
	require.Equal(t, TransportPush, st.session.TransportMode)

	require.True(t, st.applyState(Frame{Kind: FrameState, Source: TransportPull, State: StateDegraded}))
	require.Equal(t, Session{ConversationID: "c1", TransportMode: TransportPull, ConnectionState: StateDegraded}, st.session)
	require.Equal(t, 0, st.streams.Len())
	require.Empty(t, st.streams.Typing())
	require.Equal(t, 1, st.lastObserved)

	// no re-promotion and no close after demotion
	require.False(t, st.applyState(Frame{Kind: FrameState, Source: TransportPush, State: StateConnected}))
	require.False(t, st.applyState(Frame{Kind: FrameState, Source: TransportPush, State: StateClosed}))
}

func TestPollFailureThenRecovery(t *testing.T) {
	st := newSyncState("c1")
	st.applyState(Frame{Kind: FrameState, Source: TransportPull, State: StateDegraded})
	st.seed([]Message{finalMsg("m1", "one")})

	require.True(t, st.applyState(Frame{Kind: FrameState, Source: TransportPull, State: StateError, Err: "boom"}))
	require.Equal(t, StateError, st.session.ConnectionState)
	require.Equal(t, TransportPull, st.session.TransportMode)
	require.Equal(t, 1, st.log.Len())

	require.True(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "one")}}))
	require.Equal(t, StateDegraded, st.session.ConnectionState)
}

func TestPollKeepsUnechoedLocalMessages(t *testing.T) {
	st := newSyncState("c1")
	st.seed([]Message{finalMsg("m1", "one")})
	st.addLocal(Message{ID: "local-a", IsUser: true, Content: "first", Finalized: true})
	st.addLocal(Message{ID: "local-b", IsUser: true, Content: "second", Finalized: true})

	require.True(t, st.applyPoll(PollResult{Messages: []Message{
		finalMsg("m1", "one"),
		{ID: "u1", IsUser: true, Content: "first", Finalized: true},
	}}))

	require.True(t, st.log.Has("u1"))
	require.False(t, st.log.Has("local-a"))
	require.True(t, st.log.Has("local-b"))
	require.Equal(t, []string{"local-b"}, st.pending)
}

func TestStreamingEntryDroppedOncePollFinalizesIt(t *testing.T) {
	st, c := newTestState()
	feed(st, c, `{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`)
	require.True(t, st.applyPoll(PollResult{Messages: []Message{finalMsg("m1", "done")}}))
	require.Equal(t, 0, st.streams.Len())
	require.Empty(t, st.streams.Typing())

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	require.Equal(t, "done", snap.Timeline[0].Content)
}
