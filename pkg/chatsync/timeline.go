package chatsync

import (
	"sort"
	"time"
)

type logEntry struct {
	msg Message
	seq uint64
}

// MessageLog is the durable, id-indexed log of finalized (or server-provided)
// messages. Each id keeps the arrival sequence of its first insertion.
type MessageLog struct {
	entries map[string]*logEntry
}

func NewMessageLog() *MessageLog {
	return &MessageLog{entries: map[string]*logEntry{}}
}

// Upsert replaces the message with the same id or appends it. A finalized entry
// is never replaced by a non-finalized one. It returns whether the log changed.
func (l *MessageLog) Upsert(msg Message, seq uint64) bool {
	if existing, ok := l.entries[msg.ID]; ok {
		if existing.msg.Finalized && !msg.Finalized {
			return false
		}
		existing.msg = msg
		return true
	}
	l.entries[msg.ID] = &logEntry{msg: msg, seq: seq}
	return true
}

// InsertIfAbsent appends msg unless its id is already present.
func (l *MessageLog) InsertIfAbsent(msg Message, seq uint64) bool {
	if _, ok := l.entries[msg.ID]; ok {
		return false
	}
	l.entries[msg.ID] = &logEntry{msg: msg, seq: seq}
	return true
}

// ReplaceID swaps the entry stored under oldID for msg, keeping oldID's arrival
// position. It returns false when oldID is unknown.
func (l *MessageLog) ReplaceID(oldID string, msg Message) bool {
	existing, ok := l.entries[oldID]
	if !ok {
		return false
	}
	delete(l.entries, oldID)
	l.entries[msg.ID] = &logEntry{msg: msg, seq: existing.seq}
	return true
}

// ReplaceAll swaps the whole log for msgs. Ids already known keep their arrival
// position and finalized content never regresses to an in-progress version.
func (l *MessageLog) ReplaceAll(msgs []Message, nextSeq func() uint64) {
	next := make(map[string]*logEntry, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if cur, ok := next[m.ID]; ok {
			cur.msg = m
			continue
		}
		entry := &logEntry{msg: m}
		if old, ok := l.entries[m.ID]; ok {
			entry.seq = old.seq
			if old.msg.Finalized && !m.Finalized {
				entry.msg = old.msg
			}
		} else {
			entry.seq = nextSeq()
		}
		next[m.ID] = entry
	}
	l.entries = next
}

func (l *MessageLog) Get(id string) (Message, bool) {
	e, ok := l.entries[id]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

func (l *MessageLog) Has(id string) bool {
	_, ok := l.entries[id]
	return ok
}

func (l *MessageLog) IsFinalized(id string) bool {
	e, ok := l.entries[id]
	return ok && e.msg.Finalized
}

func (l *MessageLog) Len() int { return len(l.entries) }

// Messages returns the log in arrival order.
func (l *MessageLog) Messages() []Message {
	items := l.items()
	out := make([]Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}

func (l *MessageLog) Reset() { l.entries = map[string]*logEntry{} }

func (l *MessageLog) items() []logEntry {
	out := make([]logEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Merge combines the durable log with in-flight streaming entries into the
// display timeline.
//
// A streaming entry is shown when its id is absent from the log, or replaces the
// log entry when that one is not finalized yet. The result is ordered by
// timestamp, ties broken by arrival. Messages without a usable timestamp inherit
// the latest timestamp seen before them in arrival order, which keeps them at
// their arrival position.
func Merge(log *MessageLog, streams *StreamStore) []Message {
	items := log.items()
	pos := make(map[string]int, len(items))
	for i, it := range items {
		pos[it.msg.ID] = i
	}
	for _, se := range streams.Entries() {
		if i, ok := pos[se.Message.ID]; ok {
			if items[i].msg.Finalized {
				continue
			}
			items[i].msg = se.Message
			continue
		}
		pos[se.Message.ID] = len(items)
		items = append(items, logEntry{msg: se.Message, seq: se.seq})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	effective := make([]time.Time, len(items))
	var latest time.Time
	for i, it := range items {
		ts := it.msg.Timestamp
		if ts.IsZero() {
			ts = latest
		}
		if ts.After(latest) {
			latest = ts
		}
		effective[i] = ts
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := effective[idx[a]], effective[idx[b]]
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return items[idx[a]].seq < items[idx[b]].seq
	})

	out := make([]Message, len(items))
	for i, k := range idx {
		out[i] = items[k].msg
	}
	return out
}
