package chatstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

func eventFrame(epoch uint64, payload string) chatsync.Frame {
	return chatsync.Frame{Kind: chatsync.FrameEvent, Source: chatsync.TransportPush, Epoch: epoch, Payload: json.RawMessage(payload)}
}

func journalImplementations(t *testing.T) map[string]func(t *testing.T) FrameJournal {
	t.Helper()
	return map[string]func(t *testing.T) FrameJournal{
		"memory": func(t *testing.T) FrameJournal {
			return NewInMemoryJournal(0)
		},
		"sqlite": func(t *testing.T) FrameJournal {
			dbPath := filepath.Join(t.TempDir(), "journal.db")
			dsn, err := SQLiteDSNForFile(dbPath)
			require.NoError(t, err)
			s, err := NewSQLiteJournal(dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			_, err = os.Stat(dbPath)
			require.NoError(t, err)
			return s
		},
	}
}

func TestJournal_AppendAndLoad(t *testing.T) {
	for name, open := range journalImplementations(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			ctx := context.Background()

			require.Error(t, j.Append(ctx, "", eventFrame(1, `{}`)))
			require.Error(t, j.Append(ctx, "c1", chatsync.Frame{}))

			require.NoError(t, j.Append(ctx, "c1", eventFrame(1, `{"type":"agent_message_start","data":{"id":"m1"}}`)))
			require.NoError(t, j.Append(ctx, "c1", eventFrame(1, `{"type":"agent_message_chunk","data":{"id":"m1","content":"hi"}}`)))
			require.NoError(t, j.Append(ctx, "c2", eventFrame(1, `{"type":"typing_start"}`)))
			require.NoError(t, j.Append(ctx, "c1", chatsync.Frame{
				Kind:   chatsync.FrameState,
				Source: chatsync.TransportPull,
				Epoch:  1,
				State:  chatsync.StateDegraded,
				Err:    "close 1011",
			}))

			all, err := j.Load(ctx, "c1", 0, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, uint64(1), all[0].Seq)
			require.Equal(t, uint64(3), all[2].Seq)
			require.Equal(t, chatsync.FrameEvent, all[0].Frame.Kind)
			require.JSONEq(t, `{"type":"agent_message_chunk","data":{"id":"m1","content":"hi"}}`, string(all[1].Frame.Payload))
			require.Equal(t, chatsync.StateDegraded, all[2].Frame.State)
			require.Equal(t, "close 1011", all[2].Frame.Err)

			since, err := j.Load(ctx, "c1", 1, 1)
			require.NoError(t, err)
			require.Len(t, since, 1)
			require.Equal(t, uint64(2), since[0].Seq)

			other, err := j.Load(ctx, "c2", 0, 0)
			require.NoError(t, err)
			require.Len(t, other, 1)
			require.Equal(t, uint64(1), other[0].Seq)

			missing, err := j.Load(ctx, "nope", 0, 0)
			require.NoError(t, err)
			require.Empty(t, missing)
		})
	}
}

func TestJournal_ConversationIndex(t *testing.T) {
	for name, open := range journalImplementations(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			ctx := context.Background()

			require.NoError(t, j.Append(ctx, "c1", eventFrame(1, `{"type":"typing_start"}`)))
			require.NoError(t, j.Append(ctx, "c1", chatsync.Frame{
				Kind:   chatsync.FramePoll,
				Source: chatsync.TransportPull,
				Epoch:  2,
				Poll:   &chatsync.PollResult{Status: "completed"},
			}))
			require.NoError(t, j.Append(ctx, "c1", chatsync.Frame{
				Kind:   chatsync.FrameState,
				Source: chatsync.TransportNone,
				Epoch:  2,
				State:  chatsync.StateError,
				Err:    "poll failed",
			}))
			require.NoError(t, j.Append(ctx, "c1", eventFrame(2, `{"type":"typing_stop"}`)))

			rec, ok, err := j.GetConversation(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "c1", rec.ConvID)
			require.Equal(t, uint64(4), rec.FrameCount)
			require.Equal(t, uint64(2), rec.LastEpoch)
			require.Equal(t, "completed", rec.Status)
			require.Equal(t, "poll failed", rec.LastError)
			require.Greater(t, rec.CreatedAtMs, int64(0))
			require.GreaterOrEqual(t, rec.LastActivityMs, rec.CreatedAtMs)

			_, ok, err = j.GetConversation(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, j.Append(ctx, "c0", eventFrame(1, `{}`)))
			list, err := j.ListConversations(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			ids := []string{list[0].ConvID, list[1].ConvID}
			require.ElementsMatch(t, []string{"c0", "c1"}, ids)
			require.GreaterOrEqual(t, list[0].LastActivityMs, list[1].LastActivityMs)

			limited, err := j.ListConversations(ctx, 1, 0)
			require.NoError(t, err)
			require.Len(t, limited, 1)

			future, err := j.ListConversations(ctx, 10, list[0].LastActivityMs+60_000)
			require.NoError(t, err)
			require.Empty(t, future)
		})
	}
}

func TestJournal_ReplayMatchesRecording(t *testing.T) {
	for name, open := range journalImplementations(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			ctx := context.Background()

			frames := []chatsync.Frame{
				{Kind: chatsync.FrameHistory, Source: chatsync.TransportNone, Epoch: 1, Poll: &chatsync.PollResult{
					Messages: []chatsync.Message{{ID: "h1", AgentType: "analyst", Content: "earlier", Finalized: true}},
				}},
				eventFrame(1, `{"type":"agent_message_start","data":{"id":"m1","agent_type":"analyst"}}`),
				eventFrame(1, `{"type":"agent_message_chunk","data":{"id":"m1","content":"partial"}}`),
				eventFrame(1, `{"type":"agent_message_complete","data":{"id":"m1","agent_type":"analyst","content":"done"}}`),
			}
			for _, f := range frames {
				require.NoError(t, j.Append(ctx, "c1", f))
			}

			records, err := j.Load(ctx, "c1", 0, 0)
			require.NoError(t, err)
			snap := chatsync.Replay("c1", Frames(records), zerolog.Nop())
			require.Len(t, snap.Timeline, 2)
			require.Equal(t, "h1", snap.Timeline[0].ID)
			require.Equal(t, "m1", snap.Timeline[1].ID)
			require.Equal(t, "done", snap.Timeline[1].Content)
			require.Empty(t, snap.Typing)
		})
	}
}

func TestInMemoryJournal_EvictsOldestFrames(t *testing.T) {
	j := NewInMemoryJournal(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, "c1", eventFrame(1, `{}`)))
	}
	records, err := j.Load(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(4), records[0].Seq)
	require.Equal(t, uint64(5), records[1].Seq)

	rec, ok, err := j.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5), rec.FrameCount)
}

func TestInMemoryJournal_LoadDoesNotAlias(t *testing.T) {
	j := NewInMemoryJournal(0)
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, "c1", chatsync.Frame{
		Kind: chatsync.FramePoll,
		Poll: &chatsync.PollResult{Messages: []chatsync.Message{{ID: "m1", Content: "a"}}},
	}))

	first, err := j.Load(ctx, "c1", 0, 0)
	require.NoError(t, err)
	first[0].Frame.Poll.Messages[0].Content = "mutated"

	second, err := j.Load(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "a", second[0].Frame.Poll.Messages[0].Content)
}

func TestMergeConversationRecordKeepsTerminalStatus(t *testing.T) {
	existing := normalizeConversationRecord(ConversationRecord{ConvID: "c1", CreatedAtMs: 100, Status: "completed", LastError: "x"}, 100)
	merged := mergeConversationRecord(existing, ConversationRecord{ConvID: "c1", LastActivityMs: 50, FrameCount: 3}, 200)
	require.Equal(t, int64(100), merged.CreatedAtMs)
	require.Equal(t, int64(100), merged.LastActivityMs)
	require.Equal(t, "completed", merged.Status)
	require.Equal(t, "x", merged.LastError)
	require.Equal(t, uint64(3), merged.FrameCount)
}
