package redisstream

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

const (
	metaConversationID = "conversation_id"
	metaVersion        = "version"
)

// UpdatePublisher publishes every engine snapshot to the bus topic of its
// conversation. Snapshots of a detached engine are not published.
type UpdatePublisher struct {
	bus    *Bus
	logger zerolog.Logger
}

var _ chatsync.Observer = (*UpdatePublisher)(nil)

func NewUpdatePublisher(bus *Bus, logger zerolog.Logger) *UpdatePublisher {
	return &UpdatePublisher{bus: bus, logger: logger}
}

func (p *UpdatePublisher) Observe(_ context.Context, snap chatsync.Snapshot) {
	convID := snap.Session.ConversationID
	if convID == "" {
		return
	}
	msg, err := EncodeUpdate(snap)
	if err != nil {
		p.logger.Warn().Err(err).Str("conv_id", convID).Msg("encode update")
		return
	}
	if err := p.bus.Publisher.Publish(p.bus.Topic(convID), msg); err != nil {
		p.logger.Warn().Err(err).Str("conv_id", convID).Uint64("version", snap.Version).Msg("publish update")
	}
}

func EncodeUpdate(snap chatsync.Snapshot) (*message.Message, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(uuid.NewString(), b)
	msg.Metadata.Set(metaConversationID, snap.Session.ConversationID)
	msg.Metadata.Set(metaVersion, strconv.FormatUint(snap.Version, 10))
	return msg, nil
}

func DecodeUpdate(msg *message.Message) (chatsync.Snapshot, error) {
	var snap chatsync.Snapshot
	if msg == nil {
		return snap, errors.New("nil message")
	}
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		return snap, errors.Wrapf(err, "decode update %s", msg.UUID)
	}
	return snap, nil
}

// Follower delivers the decoded updates of one conversation. The in-process
// bus drops messages published while nobody is subscribed, so subscribe
// before attaching the engine.
type Follower struct {
	msgs <-chan *message.Message
}

func Subscribe(ctx context.Context, bus *Bus, conversationID string) (*Follower, error) {
	ch, err := bus.Subscriber.Subscribe(ctx, bus.Topic(conversationID))
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	return &Follower{msgs: ch}, nil
}

// Run hands each snapshot to fn until ctx ends, the subscription closes or fn
// fails.
func (f *Follower) Run(ctx context.Context, fn func(chatsync.Snapshot) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-f.msgs:
			if !ok {
				return nil
			}
			snap, err := DecodeUpdate(msg)
			msg.Ack()
			if err != nil {
				return err
			}
			if err := fn(snap); err != nil {
				return err
			}
		}
	}
}

// Follow subscribes and runs in one step.
func Follow(ctx context.Context, bus *Bus, conversationID string, fn func(chatsync.Snapshot) error) error {
	f, err := Subscribe(ctx, bus, conversationID)
	if err != nil {
		return err
	}
	return f.Run(ctx, fn)
}
