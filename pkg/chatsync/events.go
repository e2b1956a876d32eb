package chatsync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EventKind is the `type` discriminator of a push event.
type EventKind string

const (
	KindConnectionEstablished  EventKind = "connection_established"
	KindMessageStart           EventKind = "agent_message_start"
	KindMessageChunk           EventKind = "agent_message_chunk"
	KindMessageUpdate          EventKind = "agent_message_update"
	KindMessageComplete        EventKind = "agent_message_complete"
	KindAgentMessage           EventKind = "agent_message"
	KindMessageError           EventKind = "agent_message_error"
	KindUserMessage            EventKind = "user_message"
	KindConsensusUpdate        EventKind = "consensus_update"
	KindConsensusFinal         EventKind = "consensus_final"
	KindCollaborationConcluded EventKind = "collaboration_concluded"
	KindRoundStart             EventKind = "round_start"
	KindHeartbeat              EventKind = "heartbeat"
)

// kinds whose payload must carry a message id.
var messageBearingKinds = map[EventKind]struct{}{
	KindMessageStart:    {},
	KindMessageChunk:    {},
	KindMessageUpdate:   {},
	KindMessageComplete: {},
	KindAgentMessage:    {},
	KindMessageError:    {},
	KindUserMessage:     {},
}

// Event is a decoded push payload `{type, data}`.
type Event struct {
	Kind EventKind
	Data json.RawMessage
	// Message is populated for message-bearing kinds.
	Message *Message
}

// MalformedEventError is returned when a payload cannot be parsed or misses required fields.
type MalformedEventError struct {
	Kind   EventKind
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	msg := "malformed event"
	if e.Kind != "" {
		msg = fmt.Sprintf("malformed %s event", e.Kind)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedEventError.
func IsMalformed(err error) bool {
	var me *MalformedEventError
	return errors.As(err, &me)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses a raw push payload. Message-bearing kinds are decoded into
// Event.Message and must carry an id.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, &MalformedEventError{Reason: "invalid json", Err: err}
	}
	kind := EventKind(strings.TrimSpace(env.Type))
	if kind == "" {
		return Event{}, &MalformedEventError{Reason: "missing type"}
	}
	ev := Event{Kind: kind, Data: env.Data}
	if _, ok := messageBearingKinds[kind]; !ok {
		return ev, nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Event{}, &MalformedEventError{Kind: kind, Reason: "missing data"}
	}
	var msg Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return Event{}, &MalformedEventError{Kind: kind, Reason: "invalid message payload", Err: err}
	}
	if msg.ID == "" {
		return Event{}, &MalformedEventError{Kind: kind, Reason: "missing data.id"}
	}
	if !msg.IsUser && kind == KindUserMessage {
		msg.IsUser = true
	}
	ev.Message = &msg
	return ev, nil
}

// consensusPayload holds the progress fields of a consensus-bearing event,
// either at the top level or nested under "consensus".
type consensusPayload struct {
	top, nested consensusFields
}

type consensusFields struct {
	round      *int
	confidence *float64
}

func (p consensusPayload) round() *int {
	if p.top.round != nil {
		return p.top.round
	}
	return p.nested.round
}

func (p consensusPayload) confidence() *float64 {
	if p.top.confidence != nil {
		return p.top.confidence
	}
	return p.nested.confidence
}

// objectFields splits a JSON object into its raw fields. It returns nil when
// data is not an object.
func objectFields(data json.RawMessage) map[string]json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// lenientNumber accepts a JSON number or a numeric string.
func lenientNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// lenientString accepts a JSON string or the literal text of a number.
func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if _, ok := lenientNumber(raw); ok {
		return strings.TrimSpace(string(raw))
	}
	return ""
}

func consensusFieldsFrom(fields map[string]json.RawMessage) consensusFields {
	var out consensusFields
	if v, ok := lenientNumber(fields["round"]); ok {
		r := int(v)
		out.round = &r
	}
	if v, ok := lenientNumber(fields["confidence"]); ok {
		out.confidence = &v
	}
	return out
}

// consensusFromFields decodes field by field so a mistyped field only loses
// itself.
func consensusFromFields(fields map[string]json.RawMessage) consensusPayload {
	p := consensusPayload{top: consensusFieldsFrom(fields)}
	if nested := objectFields(fields["consensus"]); nested != nil {
		p.nested = consensusFieldsFrom(nested)
	}
	return p
}

func decodeConsensus(ev Event) (consensusPayload, error) {
	if len(ev.Data) == 0 || string(ev.Data) == "null" {
		return consensusPayload{}, &MalformedEventError{Kind: ev.Kind, Reason: "missing data"}
	}
	fields := objectFields(ev.Data)
	if fields == nil {
		return consensusPayload{}, &MalformedEventError{Kind: ev.Kind, Reason: "consensus payload is not an object"}
	}
	return consensusFromFields(fields), nil
}
