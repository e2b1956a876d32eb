package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// InMemoryJournal is a size-limited FrameJournal. When a conversation exceeds
// maxFramesPerConv the oldest frames are evicted; sequence numbers keep growing.
type InMemoryJournal struct {
	mu               sync.Mutex
	maxFramesPerConv int
	convs            map[string]*inMemJournal
	conversations    map[string]ConversationRecord
}

type inMemJournal struct {
	seq    uint64
	frames []FrameRecord
}

var _ FrameJournal = &InMemoryJournal{}

func NewInMemoryJournal(maxFramesPerConv int) *InMemoryJournal {
	if maxFramesPerConv <= 0 {
		maxFramesPerConv = 5000
	}
	return &InMemoryJournal{
		maxFramesPerConv: maxFramesPerConv,
		convs:            map[string]*inMemJournal{},
		conversations:    map[string]ConversationRecord{},
	}
}

func (s *InMemoryJournal) Close() error { return nil }

func (s *InMemoryJournal) Append(_ context.Context, convID string, f chatsync.Frame) error {
	if s == nil {
		return errors.New("in-memory journal: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory journal: convID is empty")
	}
	if f.Kind == "" {
		return errors.New("in-memory journal: frame kind is empty")
	}
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convs[convID]
	if conv == nil {
		conv = &inMemJournal{}
		s.convs[convID] = conv
	}
	conv.seq++
	conv.frames = append(conv.frames, FrameRecord{Seq: conv.seq, RecordedAtMs: now, Frame: cloneFrame(f)})
	if over := len(conv.frames) - s.maxFramesPerConv; over > 0 {
		conv.frames = append([]FrameRecord(nil), conv.frames[over:]...)
	}

	status, lastErr := frameOutcome(f)
	s.conversations[convID] = mergeConversationRecord(s.conversations[convID], ConversationRecord{
		ConvID:         convID,
		LastActivityMs: now,
		FrameCount:     conv.seq,
		LastEpoch:      f.Epoch,
		Status:         status,
		LastError:      lastErr,
	}, now)
	return nil
}

func (s *InMemoryJournal) Load(_ context.Context, convID string, sinceSeq uint64, limit int) ([]FrameRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory journal: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("in-memory journal: convID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convs[convID]
	if conv == nil {
		return nil, nil
	}
	out := make([]FrameRecord, 0, len(conv.frames))
	for _, r := range conv.frames {
		if r.Seq <= sinceSeq {
			continue
		}
		r.Frame = cloneFrame(r.Frame)
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryJournal) GetConversation(_ context.Context, convID string) (ConversationRecord, bool, error) {
	if s == nil {
		return ConversationRecord{}, false, errors.New("in-memory journal: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("in-memory journal: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.conversations[convID]
	return record, ok, nil
}

func (s *InMemoryJournal) ListConversations(_ context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory journal: nil store")
	}
	if limit <= 0 {
		limit = 200
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ConversationRecord, 0, len(s.conversations))
	for _, record := range s.conversations {
		if sinceMs > 0 && record.LastActivityMs < sinceMs {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].ConvID < records[j].ConvID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// cloneFrame copies the mutable parts of a frame so callers cannot alias
// journal contents.
func cloneFrame(f chatsync.Frame) chatsync.Frame {
	if f.Payload != nil {
		f.Payload = append([]byte(nil), f.Payload...)
	}
	if f.Poll != nil {
		p := *f.Poll
		p.Messages = append([]chatsync.Message(nil), p.Messages...)
		f.Poll = &p
	}
	return f
}
