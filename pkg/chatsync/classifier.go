package chatsync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// eventHandler applies one decoded event to the state and reports whether
// anything visible changed. A handler that returns an error must not have
// mutated the state.
type eventHandler func(st *syncState, ev Event) (bool, error)

// Classifier routes push events to their handler by kind.
type Classifier struct {
	handlers map[EventKind]eventHandler
	logger   zerolog.Logger
}

func NewClassifier(logger zerolog.Logger) *Classifier {
	c := &Classifier{handlers: map[EventKind]eventHandler{}, logger: logger}
	c.register(KindConnectionEstablished, handleNoop)
	c.register(KindHeartbeat, handleNoop)
	c.register(KindMessageStart, handleMessageStart)
	c.register(KindMessageChunk, handleMessageContent)
	c.register(KindMessageUpdate, handleMessageContent)
	c.register(KindMessageComplete, handleMessageComplete)
	c.register(KindAgentMessage, handleMessageComplete)
	c.register(KindMessageError, handleMessageError)
	c.register(KindUserMessage, handleUserMessage)
	c.register(KindConsensusUpdate, handleConsensusUpdate)
	c.register(KindConsensusFinal, handleCollaborationEnd)
	c.register(KindCollaborationConcluded, handleCollaborationEnd)
	c.register(KindRoundStart, handleRoundStart)
	return c
}

func (c *Classifier) register(kind EventKind, h eventHandler) {
	c.handlers[kind] = h
}

// Known reports whether kind has a handler.
func (c *Classifier) Known(kind EventKind) bool {
	_, ok := c.handlers[kind]
	return ok
}

// classify decodes raw and applies it. Malformed payloads and unknown kinds are
// logged and leave the state untouched.
func (c *Classifier) classify(st *syncState, raw []byte) bool {
	ev, err := DecodeEvent(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed event")
		return false
	}
	h, ok := c.handlers[ev.Kind]
	if !ok {
		c.logger.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event kind")
		return false
	}
	changed, err := h(st, ev)
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("dropping malformed event")
		return false
	}
	if ev.Kind == KindHeartbeat {
		c.logger.Trace().Msg("heartbeat")
	}
	return changed
}

func handleNoop(*syncState, Event) (bool, error) { return false, nil }

func handleMessageStart(st *syncState, ev Event) (bool, error) {
	msg := *ev.Message
	if st.log.IsFinalized(msg.ID) {
		return false, nil
	}
	msg.Kind = string(ev.Kind)
	if existing, ok := st.streams.Get(msg.ID); ok && msg.Content == "" {
		msg.Content = existing.Message.Content
	}
	st.streams.Upsert(msg, msg.DisplayName(), st.nextSeq())
	return true, nil
}

// handleMessageContent covers chunk and update: both carry the full content so
// far and overwrite it. A chunk for an unknown id opens the entry.
func handleMessageContent(st *syncState, ev Event) (bool, error) {
	msg := *ev.Message
	if st.log.IsFinalized(msg.ID) {
		return false, nil
	}
	if existing, ok := st.streams.Get(msg.ID); ok {
		if existing.Message.Content == msg.Content {
			return false, nil
		}
		st.streams.UpdateContent(msg.ID, msg.Content)
		return true, nil
	}
	msg.Kind = string(ev.Kind)
	st.streams.Upsert(msg, msg.DisplayName(), st.nextSeq())
	return true, nil
}

// finalize moves id out of the stream store into the log, keeping the stream
// entry's arrival position and filling metadata the final payload omitted.
func finalize(st *syncState, msg Message) {
	msg.Finalized = true
	var seq uint64
	if entry, ok := st.streams.Remove(msg.ID); ok {
		seq = entry.seq
		inheritMetadata(&msg, entry.Message)
	}
	if prev, ok := st.log.Get(msg.ID); ok {
		inheritMetadata(&msg, prev)
	}
	if seq == 0 {
		seq = st.nextSeq()
	}
	st.log.Upsert(msg, seq)
}

func inheritMetadata(dst *Message, src Message) {
	if dst.AgentType == "" {
		dst.AgentType = src.AgentType
	}
	if dst.AgentName == "" {
		dst.AgentName = src.AgentName
	}
	if dst.AgentColor == "" {
		dst.AgentColor = src.AgentColor
	}
	if dst.AgentIcon == "" {
		dst.AgentIcon = src.AgentIcon
	}
	if dst.Timestamp.IsZero() && dst.RawTimestamp == "" {
		dst.Timestamp = src.Timestamp
		dst.RawTimestamp = src.RawTimestamp
	}
}

func handleMessageComplete(st *syncState, ev Event) (bool, error) {
	msg := *ev.Message
	msg.Kind = string(ev.Kind)
	finalize(st, msg)
	return true, nil
}

// handleMessageError drops the in-flight entry. Partial content that came with
// the error is kept as a finalized message.
func handleMessageError(st *syncState, ev Event) (bool, error) {
	msg := *ev.Message
	if strings.TrimSpace(msg.Content) == "" {
		_, had := st.streams.Remove(msg.ID)
		return had, nil
	}
	msg.Kind = string(ev.Kind)
	finalize(st, msg)
	return true, nil
}

func handleUserMessage(st *syncState, ev Event) (bool, error) {
	msg := *ev.Message
	msg.IsUser = true
	msg.Finalized = true
	msg.Kind = string(ev.Kind)
	if st.log.Has(msg.ID) {
		return false, nil
	}
	if localID, ok := st.takePending(msg.Content); ok {
		st.log.ReplaceID(localID, msg)
		return true, nil
	}
	st.log.InsertIfAbsent(msg, st.nextSeq())
	return true, nil
}

func handleConsensusUpdate(st *syncState, ev Event) (bool, error) {
	p, err := decodeConsensus(ev)
	if err != nil {
		return false, err
	}
	round, confidence := p.round(), p.confidence()
	if round == nil && confidence == nil {
		return false, &MalformedEventError{Kind: ev.Kind, Reason: "missing round and confidence"}
	}
	before := st.consensus.State()
	if round != nil {
		st.consensus.SetRound(*round)
	}
	if confidence != nil {
		st.consensus.SetConfidence(*confidence)
	}
	return st.consensus.State() != before, nil
}

func handleRoundStart(st *syncState, ev Event) (bool, error) {
	p, err := decodeConsensus(ev)
	if err != nil {
		return false, err
	}
	round := p.round()
	if round == nil {
		return false, &MalformedEventError{Kind: ev.Kind, Reason: "missing round"}
	}
	before := st.consensus.State()
	st.consensus.SetRound(*round)
	return st.consensus.State() != before, nil
}

// handleCollaborationEnd appends the synthetic terminal entry and stops the
// collaboration. consensus_final also marks consensus as reached. The payload
// is read leniently: a field that does not decode never cancels the end.
func handleCollaborationEnd(st *syncState, ev Event) (bool, error) {
	fields := objectFields(ev.Data)
	if fields == nil && len(ev.Data) > 0 && string(ev.Data) != "null" {
		return false, &MalformedEventError{Kind: ev.Kind, Reason: "payload is not an object"}
	}
	var msg Message
	if fields != nil {
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			msg = Message{
				ID:        lenientString(fields["id"]),
				AgentType: lenientString(fields["agent_type"]),
				Content:   lenientString(fields["content"]),
			}
		}
	}
	if msg.Content == "" {
		msg.Content = lenientString(fields["summary"])
	}
	if msg.Content == "" {
		msg.Content = lenientString(fields["message"])
	}
	if msg.AgentType == "" && !msg.IsUser {
		msg.AgentType = "system"
	}
	msg.Finalized = true
	msg.Synthetic = true
	msg.Kind = string(ev.Kind)

	seq := st.nextSeq()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d", ev.Kind, seq)
	}
	st.log.Upsert(msg, seq)
	st.collaborating = false

	if ev.Kind == KindConsensusFinal {
		p := consensusFromFields(fields)
		if r := p.round(); r != nil {
			st.consensus.SetRound(*r)
		}
		if c := p.confidence(); c != nil {
			st.consensus.SetConfidence(*c)
		}
		st.consensus.SetReached(true)
	}
	return true, nil
}
