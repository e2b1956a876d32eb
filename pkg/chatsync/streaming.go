package chatsync

import "sort"

// StreamStore holds in-progress messages keyed by id and the set of agents
// currently composing. Remove is the only way an entry leaves the store.
type StreamStore struct {
	entries map[string]*StreamingEntry
	// typing maps an agent display name to the ids it is composing.
	typing map[string]map[string]struct{}
}

func NewStreamStore() *StreamStore {
	return &StreamStore{
		entries: map[string]*StreamingEntry{},
		typing:  map[string]map[string]struct{}{},
	}
}

// Upsert inserts or overwrites the entry for msg.ID and registers agent as typing.
// Content is replaced wholesale; the arrival sequence of an existing entry is kept.
func (s *StreamStore) Upsert(msg Message, agent string, seq uint64) {
	msg.Finalized = false
	if existing, ok := s.entries[msg.ID]; ok {
		if existing.Agent != agent {
			s.untype(existing.Agent, msg.ID)
		}
		existing.Message = msg
		existing.Agent = agent
		s.markTyping(agent, msg.ID)
		return
	}
	s.entries[msg.ID] = &StreamingEntry{Message: msg, Agent: agent, seq: seq}
	s.markTyping(agent, msg.ID)
}

// UpdateContent replaces the content of an existing entry. It returns false when
// id is not in flight.
func (s *StreamStore) UpdateContent(id, content string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Message.Content = content
	return true
}

func (s *StreamStore) Get(id string) (StreamingEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return StreamingEntry{}, false
	}
	return *e, true
}

// Remove drops the entry and clears its agent from the typing set when that was
// the agent's last in-flight message.
func (s *StreamStore) Remove(id string) (StreamingEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return StreamingEntry{}, false
	}
	delete(s.entries, id)
	s.untype(e.Agent, id)
	return *e, true
}

func (s *StreamStore) Len() int { return len(s.entries) }

// Entries returns copies of the in-flight entries in arrival order.
func (s *StreamStore) Entries() []StreamingEntry {
	out := make([]StreamingEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Typing returns the sorted set of agents currently composing.
func (s *StreamStore) Typing() []string {
	out := make([]string, 0, len(s.typing))
	for name := range s.typing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *StreamStore) IsTyping(agent string) bool {
	_, ok := s.typing[agent]
	return ok
}

func (s *StreamStore) Reset() {
	s.entries = map[string]*StreamingEntry{}
	s.typing = map[string]map[string]struct{}{}
}

func (s *StreamStore) markTyping(agent, id string) {
	if agent == "" {
		return
	}
	ids := s.typing[agent]
	if ids == nil {
		ids = map[string]struct{}{}
		s.typing[agent] = ids
	}
	ids[id] = struct{}{}
}

func (s *StreamStore) untype(agent, id string) {
	ids, ok := s.typing[agent]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.typing, agent)
	}
}
