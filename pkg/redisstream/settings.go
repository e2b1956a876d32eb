package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SectionSlug        = "redis"
	DefaultTopicPrefix = "chatsync.updates"
)

// Settings configures where snapshot updates are published. When Enabled is
// false updates go to an in-process channel.
type Settings struct {
	Enabled     bool   `glazed:"redis-enabled"`
	Addr        string `glazed:"redis-addr"`
	Group       string `glazed:"redis-group"`
	Consumer    string `glazed:"redis-consumer"`
	TopicPrefix string `glazed:"redis-topic-prefix"`
}

// NewSection returns the glazed section for update bus settings.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams update bus",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Publish snapshot updates to Redis Streams")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault("chatsync"),
				fields.WithHelp("Consumer group used when following updates")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault("follower-1"),
				fields.WithHelp("Consumer name used when following updates")),
			fields.New("redis-topic-prefix", fields.TypeString,
				fields.WithDefault(DefaultTopicPrefix),
				fields.WithHelp("Stream name prefix, the conversation id is appended")),
		),
	)
}

func (s Settings) topicPrefix() string {
	if s.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return s.TopicPrefix
}
