package chatsync

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestState() (*syncState, *Classifier) {
	st := newSyncState("c1")
	st.collaborating = true
	return st, NewClassifier(zerolog.Nop())
}

func feed(st *syncState, c *Classifier, raws ...string) {
	for _, raw := range raws {
		c.classify(st, []byte(raw))
	}
}

func timelineIDs(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestStartCompleteProducesSingleFinalizedMessage(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`,
		`{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"Result: 42","timestamp":"T1"}}`,
	)

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	require.Equal(t, "m1", snap.Timeline[0].ID)
	require.Equal(t, "Result: 42", snap.Timeline[0].Content)
	require.True(t, snap.Timeline[0].Finalized)
	require.Empty(t, snap.Typing)
	require.Equal(t, 0, st.streams.Len())
}

func TestChunksReplaceContentAndCompleteWins(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`,
		`{"type":"agent_message_chunk","data":{"id":"m1","content":"Res"}}`,
		`{"type":"agent_message_chunk","data":{"id":"m1","content":"Result"}}`,
	)

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	require.Equal(t, "Result", snap.Timeline[0].Content)
	require.False(t, snap.Timeline[0].Finalized)
	require.Equal(t, []string{"analyst"}, snap.Typing)

	feed(st, c,
		`{"type":"agent_message_update","data":{"id":"m1","content":"Result: 4"}}`,
		`{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"Result: 42"}}`,
	)
	snap = st.snapshot(2)
	require.Len(t, snap.Timeline, 1)
	require.Equal(t, "Result: 42", snap.Timeline[0].Content)
	require.True(t, snap.Timeline[0].Finalized)
	require.Empty(t, snap.Typing)
}

func TestCompleteTwiceIsIdempotent(t *testing.T) {
	st, c := newTestState()
	complete := `{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"done"}}`
	feed(st, c, complete, complete)
	feed(st, c, `{"type":"agent_message","data":{"id":"m1","agent_type":"analyst","content":"done"}}`)

	snap := st.snapshot(1)
	require.Equal(t, []string{"m1"}, timelineIDs(snap.Timeline))
	require.Equal(t, "done", snap.Timeline[0].Content)
}

func TestLateEventsDoNotRegressFinalizedMessage(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"final"}}`,
		`{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`,
		`{"type":"agent_message_chunk","data":{"id":"m1","content":"fin"}}`,
	)

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	require.Equal(t, "final", snap.Timeline[0].Content)
	require.True(t, snap.Timeline[0].Finalized)
	require.Empty(t, snap.Typing)
}

func TestTypingClearedOnlyAfterLastInFlightMessage(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_start","data":{"id":"a1","agent_type":"analyst"}}`,
		`{"type":"agent_message_start","data":{"id":"a2","agent_type":"analyst"}}`,
		`{"type":"agent_message_start","data":{"id":"b1","agent_type":"critic"}}`,
	)
	require.Equal(t, []string{"analyst", "critic"}, st.streams.Typing())

	feed(st, c, `{"type":"agent_message_complete","data":{"id":"a1","agent_type":"analyst","content":"one"}}`)
	require.Equal(t, []string{"analyst", "critic"}, st.streams.Typing())

	feed(st, c, `{"type":"agent_message_error","data":{"id":"a2","agent_type":"analyst"}}`)
	require.Equal(t, []string{"critic"}, st.streams.Typing())

	// the completion carries a display name the start did not have
	feed(st, c, `{"type":"agent_message_complete","data":{"id":"b1","agent_type":"critic","agent_config":{"name":"Critic"},"content":"two"}}`)
	require.Empty(t, st.streams.Typing())

	snap := st.snapshot(1)
	require.Equal(t, []string{"a1", "b1"}, timelineIDs(snap.Timeline))
}

func TestErrorWithPartialContentKeepsMessage(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`,
		`{"type":"agent_message_error","data":{"id":"m1","agent_type":"analyst","content":"partial answer"}}`,
	)

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	require.True(t, snap.Timeline[0].Finalized)
	require.Equal(t, "partial answer", snap.Timeline[0].Content)
	require.Empty(t, snap.Typing)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	st, c := newTestState()
	feed(st, c, `{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`)
	before := st.snapshot(1)

	for _, raw := range []string{
		`not json`,
		`{"data":{"id":"m2"}}`,
		`{"type":"agent_message_complete"}`,
		`{"type":"agent_message_complete","data":{"content":"no id"}}`,
		`{"type":"agent_message_chunk","data":"oops"}`,
		`{"type":"consensus_update","data":{}}`,
		`{"type":"round_start","data":{"confidence":0.2}}`,
		`{"type":"consensus_final","data":"not an object"}`,
	} {
		require.False(t, c.classify(st, []byte(raw)), raw)
	}

	require.Equal(t, before, st.snapshot(1))
}

func TestUnknownAndBookkeepingKindsChangeNothing(t *testing.T) {
	st, c := newTestState()
	require.False(t, c.classify(st, []byte(`{"type":"agent_thinking","data":{"id":"x"}}`)))
	require.False(t, c.classify(st, []byte(`{"type":"heartbeat"}`)))
	require.False(t, c.classify(st, []byte(`{"type":"connection_established","data":{"conversation_id":"c1"}}`)))
	require.Empty(t, st.snapshot(1).Timeline)
	require.False(t, c.Known("agent_thinking"))
	require.True(t, c.Known(KindHeartbeat))
}

func TestUserEchoIgnoredWhenPresent(t *testing.T) {
	st, c := newTestState()
	echo := `{"type":"user_message","data":{"id":"u1","content":"hello"}}`
	feed(st, c, echo, echo)

	snap := st.snapshot(1)
	require.Equal(t, []string{"u1"}, timelineIDs(snap.Timeline))
	require.True(t, snap.Timeline[0].IsUser)
}

func TestUserEchoReplacesOptimisticLocalMessage(t *testing.T) {
	st, c := newTestState()
	feed(st, c, `{"type":"agent_message_complete","data":{"id":"m0","agent_type":"analyst","content":"earlier"}}`)
	st.addLocal(Message{ID: "local-1", IsUser: true, Content: "what now?", Finalized: true})
	feed(st, c, `{"type":"agent_message_complete","data":{"id":"m2","agent_type":"analyst","content":"later"}}`)

	feed(st, c, `{"type":"user_message","data":{"id":"u1","content":"what now?"}}`)

	snap := st.snapshot(1)
	require.Equal(t, []string{"m0", "u1", "m2"}, timelineIDs(snap.Timeline))
	require.Empty(t, st.pending)
}

func TestConsensusEvents(t *testing.T) {
	st, c := newTestState()
	feed(st, c,
		`{"type":"round_start","data":{"round":2}}`,
		`{"type":"consensus_update","data":{"consensus":{"round":3,"confidence":0.7}}}`,
	)
	require.Equal(t, ConsensusState{Round: 3, Confidence: 0.7}, st.consensus.State())
	require.True(t, st.collaborating)

	// out-of-order round start is last-write-wins
	feed(st, c, `{"type":"round_start","data":{"round":1}}`)
	require.Equal(t, 1, st.consensus.State().Round)

	feed(st, c, `{"type":"consensus_update","data":{"confidence":1.7}}`)
	require.Equal(t, 1.0, st.consensus.State().Confidence)

	feed(st, c, `{"type":"consensus_final","data":{"summary":"agreed on 42","round":4}}`)
	require.Equal(t, ConsensusState{Round: 4, Reached: true, Confidence: 1}, st.consensus.State())
	require.False(t, st.collaborating)

	snap := st.snapshot(1)
	require.Len(t, snap.Timeline, 1)
	last := snap.Timeline[0]
	require.True(t, last.Synthetic)
	require.True(t, last.Finalized)
	require.Equal(t, "agreed on 42", last.Content)
	require.Equal(t, "system", last.AgentType)
}

func TestConsensusFinalWithMistypedFieldsStillConcludes(t *testing.T) {
	st, c := newTestState()
	require.True(t, c.classify(st, []byte(
		`{"type":"consensus_final","data":{"id":7,"round":"3","confidence":0.9,"timestamp":{"bad":true},"summary":"done"}}`)))

	require.False(t, st.collaborating)
	require.Equal(t, ConsensusState{Round: 3, Reached: true, Confidence: 0.9}, st.consensus.State())
	snap := st.snapshot(1)
	require.Equal(t, []string{"7"}, timelineIDs(snap.Timeline))
	require.Equal(t, "done", snap.Timeline[0].Content)
	require.True(t, snap.Timeline[0].Synthetic)
}

func TestConsensusUpdateKeepsWellTypedFields(t *testing.T) {
	st, c := newTestState()
	require.True(t, c.classify(st, []byte(`{"type":"consensus_update","data":{"round":"two","confidence":0.4}}`)))
	require.Equal(t, ConsensusState{Confidence: 0.4}, st.consensus.State())
}

func TestCollaborationConcludedKeepsConsensusUnreached(t *testing.T) {
	st, c := newTestState()
	feed(st, c, `{"type":"collaboration_concluded","data":{"id":"end-1","content":"max rounds"}}`)
	feed(st, c, `{"type":"collaboration_concluded","data":{"id":"end-1","content":"max rounds"}}`)

	require.False(t, st.collaborating)
	require.False(t, st.consensus.State().Reached)
	snap := st.snapshot(1)
	require.Equal(t, []string{"end-1"}, timelineIDs(snap.Timeline))
}
