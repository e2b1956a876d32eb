package chatapi

import "github.com/go-go-golems/chatsync/pkg/chatsync"

// StartRequest is the body of POST /api/conversation/start.
type StartRequest struct {
	Topic              string   `json:"topic"`
	Agents             []string `json:"agents"`
	MessageCount       int      `json:"message_count,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	MaxRounds          int      `json:"max_rounds,omitempty"`
	ConsensusThreshold float64  `json:"consensus_threshold,omitempty"`
}

type StartResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// PollResponse is the body of GET /api/conversation/{id}/poll.
type PollResponse struct {
	ConversationID     string             `json:"conversation_id"`
	Messages           []chatsync.Message `json:"messages"`
	TotalMessages      int                `json:"total_messages"`
	LastUpdated        string             `json:"last_updated,omitempty"`
	ConversationStatus string             `json:"conversation_status"`
}

// AgentInfo describes one agent type as listed by GET /api/agents.
type AgentInfo struct {
	Name    string `json:"name"`
	Model   string `json:"model,omitempty"`
	Role    string `json:"role,omitempty"`
	Persona string `json:"persona,omitempty"`
	Color   string `json:"color,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

type ImageResponse struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}
