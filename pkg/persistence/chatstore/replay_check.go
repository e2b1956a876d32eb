package chatstore

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// ReplayCheck compares a live timeline with the one rebuilt from the journal.
type ReplayCheck struct {
	Frames int
	// Complete is false when frames were evicted; nothing is compared then.
	Complete bool
	Missing  []string
	Extra    []string
}

func (c ReplayCheck) Consistent() bool {
	return len(c.Missing) == 0 && len(c.Extra) == 0
}

// CheckReplay replays the journaled frames of convID and reports the message
// ids that differ from live. Optimistic local messages are not journaled and
// are left out of the comparison.
func CheckReplay(ctx context.Context, j FrameJournal, convID string, live chatsync.Snapshot, logger zerolog.Logger) (ReplayCheck, error) {
	records, err := j.Load(ctx, convID, 0, 0)
	if err != nil {
		return ReplayCheck{}, err
	}
	conv, ok, err := j.GetConversation(ctx, convID)
	if err != nil {
		return ReplayCheck{}, err
	}
	check := ReplayCheck{Frames: len(records)}
	if !ok || conv.FrameCount != uint64(len(records)) {
		return check, nil
	}
	check.Complete = true

	replayed := chatsync.Replay(convID, Frames(records), logger)
	want := journaledIDs(live.Timeline)
	got := journaledIDs(replayed.Timeline)
	for id := range want {
		if _, ok := got[id]; !ok {
			check.Missing = append(check.Missing, id)
		}
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			check.Extra = append(check.Extra, id)
		}
	}
	sort.Strings(check.Missing)
	sort.Strings(check.Extra)
	return check, nil
}

func journaledIDs(msgs []chatsync.Message) map[string]struct{} {
	out := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if strings.HasPrefix(m.ID, chatsync.LocalIDPrefix) {
			continue
		}
		out[m.ID] = struct{}{}
	}
	return out
}
