package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus is a publisher/subscriber pair carrying snapshot updates.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	settings   Settings
	closers    []func() error
}

// BuildBus returns a Redis Streams backed bus when enabled, otherwise an
// in-process go channel.
func BuildBus(s Settings, logger zerolog.Logger) (*Bus, error) {
	wl := NewWatermillLogger(logger)
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wl)
		return &Bus{Publisher: ch, Subscriber: ch, settings: s, closers: []func() error{ch.Close}}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wl)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wl)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}

	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		settings:   s,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// Topic is the stream carrying updates for one conversation.
func (b *Bus) Topic(conversationID string) string {
	return TopicFor(b.settings.topicPrefix(), conversationID)
}

// Close closes every part of the bus and returns the first error.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

func TopicFor(prefix, conversationID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + conversationID
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string, logger zerolog.Logger) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	logger.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
