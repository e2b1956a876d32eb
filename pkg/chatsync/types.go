package chatsync

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// TransportMode names which transport currently feeds the engine.
type TransportMode string

const (
	TransportNone TransportMode = "none"
	TransportPush TransportMode = "push"
	TransportPull TransportMode = "pull"
)

// ConnectionState is the externally observable health of the active transport.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateDegraded   ConnectionState = "degraded"
	StateError      ConnectionState = "error"
	StateClosed     ConnectionState = "closed"
)

// Session describes the one active conversation the engine is attached to.
type Session struct {
	ConversationID  string          `json:"conversation_id"`
	TransportMode   TransportMode   `json:"transport_mode"`
	ConnectionState ConnectionState `json:"connection_state"`
}

// Message is one entry of the conversation timeline.
//
// Messages serialize to the backend wire shape so that poll responses, history
// fetches, journal records and bus updates all share one encoding.
type Message struct {
	ID           string
	AgentType    string
	IsUser       bool
	AgentName    string
	AgentColor   string
	AgentIcon    string
	Content      string
	Timestamp    time.Time
	RawTimestamp string
	ImageURL     string
	ResponseTime float64
	TokenCount   int
	Finalized    bool
	// Synthetic marks terminal collaboration entries (consensus_final, collaboration_concluded).
	Synthetic bool
	// Kind is the event kind that last wrote the message, empty for history/poll entries.
	Kind string
}

// DisplayName is the agent name shown for the message author.
func (m Message) DisplayName() string {
	if m.IsUser {
		return "You"
	}
	if m.AgentName != "" {
		return m.AgentName
	}
	if m.AgentType != "" {
		return m.AgentType
	}
	return "agent"
}

// StreamingEntry is the in-flight shadow of a message that has not been finalized yet.
type StreamingEntry struct {
	Message Message
	// Agent is the display name registered in the typing set for this entry.
	Agent string
	seq   uint64
}

// ConsensusState is the round/confidence side channel of a collaboration.
type ConsensusState struct {
	Round      int     `json:"round"`
	Reached    bool    `json:"reached"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is a read-only copy of the engine state handed to renderers.
type Snapshot struct {
	Session       Session        `json:"session"`
	Timeline      []Message      `json:"timeline"`
	Typing        []string       `json:"typing"`
	Consensus     ConsensusState `json:"consensus"`
	Collaborating bool           `json:"collaborating"`
	Status        string         `json:"conversation_status,omitempty"`
	Version       uint64         `json:"version"`
}

// AgentConfig is the optional display metadata attached to agent messages.
type AgentConfig struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

type wireMessage struct {
	ID              string          `json:"id"`
	AgentType       string          `json:"agent_type,omitempty"`
	IsUser          bool            `json:"is_user,omitempty"`
	Content         string          `json:"content"`
	Timestamp       json.RawMessage `json:"timestamp,omitempty"`
	AgentConfig     *AgentConfig    `json:"agent_config,omitempty"`
	ImageURL        string          `json:"image_url,omitempty"`
	ResponseTime    float64         `json:"response_time,omitempty"`
	TokenCount      int             `json:"token_count,omitempty"`
	StreamingStatus string          `json:"streaming_status,omitempty"`
	Synthetic       bool            `json:"synthetic,omitempty"`
	Kind            string          `json:"kind,omitempty"`
}

// streaming_status values that mark a backend message as still in progress.
var inProgressStatuses = map[string]struct{}{
	"streaming":   {},
	"in_progress": {},
	"started":     {},
	"typing":      {},
	"pending":     {},
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:           m.ID,
		AgentType:    m.AgentType,
		IsUser:       m.IsUser,
		Content:      m.Content,
		ImageURL:     m.ImageURL,
		ResponseTime: m.ResponseTime,
		TokenCount:   m.TokenCount,
		Synthetic:    m.Synthetic,
		Kind:         m.Kind,
	}
	if m.AgentName != "" || m.AgentColor != "" || m.AgentIcon != "" {
		w.AgentConfig = &AgentConfig{Name: m.AgentName, Color: m.AgentColor, Icon: m.AgentIcon}
	}
	switch {
	case m.RawTimestamp != "":
		b, err := json.Marshal(m.RawTimestamp)
		if err != nil {
			return nil, err
		}
		w.Timestamp = b
	case !m.Timestamp.IsZero():
		b, err := json.Marshal(m.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		w.Timestamp = b
	}
	if !m.Finalized {
		w.StreamingStatus = "streaming"
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, raw := parseTimestamp(w.Timestamp)
	*m = Message{
		ID:           strings.TrimSpace(w.ID),
		AgentType:    w.AgentType,
		IsUser:       w.IsUser,
		Content:      w.Content,
		Timestamp:    ts,
		RawTimestamp: raw,
		ImageURL:     w.ImageURL,
		ResponseTime: w.ResponseTime,
		TokenCount:   w.TokenCount,
		Synthetic:    w.Synthetic,
		Kind:         w.Kind,
	}
	if w.AgentConfig != nil {
		m.AgentName = w.AgentConfig.Name
		m.AgentColor = w.AgentConfig.Color
		m.AgentIcon = w.AgentConfig.Icon
	}
	_, inProgress := inProgressStatuses[strings.ToLower(strings.TrimSpace(w.StreamingStatus))]
	m.Finalized = !inProgress
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp accepts ISO-8601 strings (with or without zone) and unix
// seconds/milliseconds. Unparseable values keep their raw text and a zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, ""
	}
	if raw[0] != '"' {
		t, _ := parseUnixTimestamp(string(raw))
		return t, string(raw)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, ""
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), s
		}
	}
	t, _ := parseUnixTimestamp(s)
	return t, s
}

func parseUnixTimestamp(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
}
