package chatstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

func recordSession(t *testing.T, j FrameJournal) []chatsync.Frame {
	t.Helper()
	frames := []chatsync.Frame{
		eventFrame(1, `{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`),
		eventFrame(1, `{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"42"}}`),
		eventFrame(1, `{"type":"user_message","data":{"id":"u1","is_user":true,"content":"why?"}}`),
	}
	for _, f := range frames {
		require.NoError(t, j.Append(context.Background(), "c1", f))
	}
	return frames
}

func TestCheckReplayIgnoresLocalEchoes(t *testing.T) {
	j := NewInMemoryJournal(0)
	frames := recordSession(t, j)

	live := chatsync.Replay("c1", frames, zerolog.Nop())
	live.Timeline = append(live.Timeline, chatsync.Message{ID: chatsync.LocalIDPrefix + "x", IsUser: true, Content: "pending"})

	check, err := CheckReplay(context.Background(), j, "c1", live, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, check.Complete)
	require.Equal(t, 3, check.Frames)
	require.True(t, check.Consistent())
}

func TestCheckReplayReportsDivergence(t *testing.T) {
	j := NewInMemoryJournal(0)
	recordSession(t, j)

	live := chatsync.Snapshot{Timeline: []chatsync.Message{{ID: "m1"}, {ID: "m9"}}}
	check, err := CheckReplay(context.Background(), j, "c1", live, zerolog.Nop())
	require.NoError(t, err)
	require.False(t, check.Consistent())
	require.Equal(t, []string{"m9"}, check.Missing)
	require.Equal(t, []string{"u1"}, check.Extra)
}

func TestCheckReplaySkipsEvictedJournal(t *testing.T) {
	j := NewInMemoryJournal(2)
	recordSession(t, j)

	check, err := CheckReplay(context.Background(), j, "c1", chatsync.Snapshot{}, zerolog.Nop())
	require.NoError(t, err)
	require.False(t, check.Complete)
	require.True(t, check.Consistent())
	require.Equal(t, 2, check.Frames)
}
