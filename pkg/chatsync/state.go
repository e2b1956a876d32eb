package chatsync

import (
	"strings"
)

// Conversation status values after which poll results no longer drive state.
var terminalStatuses = map[string]struct{}{
	"completed":         {},
	"concluded":         {},
	"consensus_reached": {},
	"error":             {},
	"failed":            {},
	"cancelled":         {},
	"stopped":           {},
}

// IsTerminalStatus reports whether a conversation_status value ends a collaboration.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// syncState is everything owned by one attach cycle. It is only mutated by the
// engine's consumer (and by Attach/Detach under the engine lock).
type syncState struct {
	session       Session
	streams       *StreamStore
	log           *MessageLog
	consensus     ConsensusTracker
	collaborating bool
	status        string
	// terminal is set once a poll reported a terminal status.
	terminal bool
	// lastObserved is the message count the pull channel compares against.
	lastObserved int
	arrivals     uint64
	// pending holds ids of optimistic local user messages awaiting their echo.
	pending []string
}

func newSyncState(conversationID string) *syncState {
	return &syncState{
		session: Session{
			ConversationID:  conversationID,
			TransportMode:   TransportNone,
			ConnectionState: StateConnecting,
		},
		streams: NewStreamStore(),
		log:     NewMessageLog(),
	}
}

func (s *syncState) nextSeq() uint64 {
	s.arrivals++
	return s.arrivals
}

func (s *syncState) seed(msgs []Message) {
	s.log.ReplaceAll(msgs, s.nextSeq)
	s.lastObserved = s.log.Len()
}

func (s *syncState) addLocal(msg Message) {
	s.log.InsertIfAbsent(msg, s.nextSeq())
	s.pending = append(s.pending, msg.ID)
}

// takePending returns the oldest optimistic entry whose content matches.
func (s *syncState) takePending(content string) (string, bool) {
	want := strings.TrimSpace(content)
	for i, id := range s.pending {
		m, ok := s.log.Get(id)
		if !ok {
			continue
		}
		if strings.TrimSpace(m.Content) == want {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return id, true
		}
	}
	return "", false
}

func (s *syncState) applyState(f Frame) bool {
	if s.terminal && f.Source == TransportPull {
		return false
	}
	before := s.session
	switch f.State {
	case StateConnected:
		if s.session.TransportMode == TransportPull {
			return false
		}
		s.session.TransportMode = f.Source
		s.session.ConnectionState = StateConnected
	case StateDegraded:
		s.session.TransportMode = TransportPull
		s.session.ConnectionState = StateDegraded
		// Nothing will finish in-flight push messages any more; pull only returns
		// finalized ones, so drop the shadows and their typing members.
		s.streams.Reset()
		s.lastObserved = s.log.Len()
	case StateError:
		if f.Source != TransportPull {
			s.session.TransportMode = TransportNone
		}
		s.session.ConnectionState = StateError
	case StateClosed:
		if s.session.TransportMode == TransportPull {
			return false
		}
		s.session.TransportMode = TransportNone
		s.session.ConnectionState = StateClosed
	default:
		return false
	}
	return s.session != before
}

func (s *syncState) applyPoll(res PollResult) bool {
	if s.terminal {
		return false
	}
	changed := false
	if s.session.TransportMode == TransportPull && s.session.ConnectionState == StateError {
		s.session.ConnectionState = StateDegraded
		changed = true
	}
	if len(res.Messages) != s.lastObserved {
		s.replaceLog(res.Messages)
		s.lastObserved = len(res.Messages)
		changed = true
	}
	if res.Status != s.status {
		s.status = res.Status
		changed = true
	}
	if IsTerminalStatus(res.Status) {
		s.terminal = true
		s.collaborating = false
		changed = true
	}
	return changed
}

// replaceLog swaps the durable log for a server list and keeps optimistic local
// entries that the server has not echoed yet.
func (s *syncState) replaceLog(msgs []Message) {
	type local struct {
		msg Message
		seq uint64
	}
	var locals []local
	for _, id := range s.pending {
		if e, ok := s.log.entries[id]; ok {
			locals = append(locals, local{msg: e.msg, seq: e.seq})
		}
	}

	s.log.ReplaceAll(msgs, s.nextSeq)

	echoed := map[string]int{}
	for _, m := range msgs {
		if m.IsUser {
			echoed[strings.TrimSpace(m.Content)]++
		}
	}
	s.pending = s.pending[:0]
	for _, l := range locals {
		key := strings.TrimSpace(l.msg.Content)
		if echoed[key] > 0 {
			echoed[key]--
			continue
		}
		s.log.InsertIfAbsent(l.msg, l.seq)
		s.pending = append(s.pending, l.msg.ID)
	}

	for _, e := range s.streams.Entries() {
		if s.log.IsFinalized(e.Message.ID) {
			s.streams.Remove(e.Message.ID)
		}
	}
}

func (s *syncState) snapshot(version uint64) Snapshot {
	return Snapshot{
		Session:       s.session,
		Timeline:      Merge(s.log, s.streams),
		Typing:        s.streams.Typing(),
		Consensus:     s.consensus.State(),
		Collaborating: s.collaborating,
		Status:        s.status,
		Version:       version,
	}
}
