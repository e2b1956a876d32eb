package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/redisstream"
	"github.com/go-go-golems/chatsync/pkg/ui"
)

type FollowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*FollowCommand)(nil)

type FollowSettings struct {
	ConversationID string `glazed:"conversation-id"`
	Markdown       bool   `glazed:"markdown"`
}

func NewFollowCommand() (*FollowCommand, error) {
	sections, err := newSections(withRedis)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"follow",
		cmds.WithShort("Render the snapshots another watcher mirrors to Redis Streams"),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString, fields.WithHelp("Conversation id")),
		),
		cmds.WithFlags(
			fields.New("markdown", fields.TypeBool, fields.WithDefault(true), fields.WithHelp("Render message content as markdown")),
		),
		cmds.WithSections(sections...),
	)
	return &FollowCommand{CommandDescription: desc}, nil
}

func (c *FollowCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &FollowSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode follow settings")
	}
	rs := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &rs); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}
	if !rs.Enabled {
		return errors.New("follow reads from Redis Streams, pass --redis-enabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := busLogger()
	bus, err := redisstream.BuildBus(rs, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	topic := bus.Topic(s.ConversationID)
	if err := redisstream.EnsureGroupAtTail(ctx, rs.Addr, topic, rs.Group, logger); err != nil {
		return errors.Wrap(err, "ensure consumer group")
	}
	log.Info().Str("stream", topic).Str("group", rs.Group).Str("consumer", rs.Consumer).Msg("following updates")

	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	renderer, err := ui.NewPlainRenderer(w, ui.WithColor(color), ui.WithMarkdown(s.Markdown))
	if err != nil {
		return err
	}
	return ignoreCanceled(redisstream.Follow(ctx, bus, s.ConversationID, renderer.Render))
}
