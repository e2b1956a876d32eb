package chatstore

import (
	"context"
	"strings"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// ConversationRecord summarizes one journaled conversation for listing.
type ConversationRecord struct {
	ConvID         string `json:"conv_id" yaml:"conv_id"`
	CreatedAtMs    int64  `json:"created_at_ms" yaml:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms" yaml:"last_activity_ms"`
	FrameCount     uint64 `json:"frame_count" yaml:"frame_count"`
	LastEpoch      uint64 `json:"last_epoch" yaml:"last_epoch"`
	Status         string `json:"status" yaml:"status"`
	LastError      string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// FrameRecord is one journaled frame with its per-conversation sequence.
type FrameRecord struct {
	Seq          uint64         `json:"seq"`
	RecordedAtMs int64          `json:"recorded_at_ms"`
	Frame        chatsync.Frame `json:"frame"`
}

// FrameJournal records every frame the engine applied so a session can be
// rebuilt offline with chatsync.Replay.
type FrameJournal interface {
	chatsync.Journal
	// Load returns frames with seq > sinceSeq in seq order. limit <= 0 means all.
	Load(ctx context.Context, convID string, sinceSeq uint64, limit int) ([]FrameRecord, error)
	GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error)
	ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error)
	Close() error
}

// Frames strips the journal bookkeeping off records.
func Frames(records []FrameRecord) []chatsync.Frame {
	out := make([]chatsync.Frame, 0, len(records))
	for _, r := range records {
		out = append(out, r.Frame)
	}
	return out
}

// frameOutcome extracts the conversation status and error a frame reports.
func frameOutcome(f chatsync.Frame) (status string, lastError string) {
	switch f.Kind {
	case chatsync.FramePoll:
		if f.Poll != nil {
			status = strings.TrimSpace(f.Poll.Status)
		}
	case chatsync.FrameState:
		if f.State == chatsync.StateError {
			lastError = strings.TrimSpace(f.Err)
		}
	case chatsync.FrameEvent, chatsync.FrameHistory:
	}
	return status, lastError
}

func normalizeConversationRecord(record ConversationRecord, now int64) ConversationRecord {
	record.ConvID = strings.TrimSpace(record.ConvID)
	record.Status = strings.TrimSpace(record.Status)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.CreatedAtMs <= 0 {
		record.CreatedAtMs = now
	}
	if record.LastActivityMs <= 0 {
		record.LastActivityMs = record.CreatedAtMs
	}
	if record.Status == "" {
		record.Status = "active"
	}
	return record
}

func mergeConversationRecord(existing, incoming ConversationRecord, now int64) ConversationRecord {
	incoming = normalizeConversationRecord(incoming, now)
	if existing.ConvID == "" {
		return incoming
	}
	if existing.CreatedAtMs > 0 {
		incoming.CreatedAtMs = existing.CreatedAtMs
	}
	if incoming.LastActivityMs < existing.LastActivityMs {
		incoming.LastActivityMs = existing.LastActivityMs
	}
	if incoming.FrameCount < existing.FrameCount {
		incoming.FrameCount = existing.FrameCount
	}
	if incoming.LastEpoch < existing.LastEpoch {
		incoming.LastEpoch = existing.LastEpoch
	}
	if incoming.Status == "active" && existing.Status != "" {
		incoming.Status = existing.Status
	}
	if incoming.LastError == "" {
		incoming.LastError = existing.LastError
	}
	return incoming
}
