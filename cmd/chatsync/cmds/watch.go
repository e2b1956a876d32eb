package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatsync/pkg/chatapi"
	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/redisstream"
	"github.com/go-go-golems/chatsync/pkg/ui"
)

type WatchCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*WatchCommand)(nil)

type WatchSettings struct {
	ConversationID string   `glazed:"conversation-id"`
	Topic          string   `glazed:"topic"`
	Agents         []string `glazed:"agents"`
	MessageCount   int      `glazed:"message-count"`
	Generate       bool     `glazed:"generate"`
	TUI            bool     `glazed:"tui"`
	PullOnly       bool     `glazed:"pull-only"`
	PollIntervalMs int      `glazed:"poll-interval-ms"`
	Markdown       bool     `glazed:"markdown"`
	Follow         bool     `glazed:"follow"`
}

func NewWatchCommand() (*WatchCommand, error) {
	sections, err := newSections(withAPI, withRedis, withJournal)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"watch",
		cmds.WithShort("Attach to a conversation and render its timeline live"),
		cmds.WithLong(`Attach to an existing conversation, or start one when no id is given,
and render the merged timeline as it streams in. The websocket channel is used
first; if it fails the command falls back to polling for the rest of the session.`),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Conversation to attach to (empty starts a new one)")),
		),
		cmds.WithFlags(
			fields.New("topic", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Topic of a new conversation")),
			fields.New("agents", fields.TypeStringList, fields.WithDefault([]string{}), fields.WithHelp("Agent types taking part in a new conversation")),
			fields.New("message-count", fields.TypeInteger, fields.WithDefault(10), fields.WithHelp("Messages to generate in a new conversation")),
			fields.New("generate", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Ask the backend to run one autonomous round after attaching")),
			fields.New("tui", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Interactive terminal UI with an input line")),
			fields.New("pull-only", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Skip the websocket and poll from the start")),
			fields.New("poll-interval-ms", fields.TypeInteger, fields.WithDefault(1500), fields.WithHelp("Polling interval, clamped below 2000ms")),
			fields.New("markdown", fields.TypeBool, fields.WithDefault(true), fields.WithHelp("Render message content as markdown")),
			fields.New("follow", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Keep watching after the conversation ended")),
		),
		cmds.WithSections(sections...),
	)
	return &WatchCommand{CommandDescription: desc}, nil
}

func (c *WatchCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &WatchSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode watch settings")
	}
	sections, err := decodeSections(parsed, true, true)
	if err != nil {
		return err
	}

	ls, err := openLiveSession(sections, liveOptions{
		pullOnly:     s.PullOnly,
		pollInterval: time.Duration(s.PollIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer ls.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	convID := s.ConversationID
	if convID == "" {
		resp, err := ls.client.StartConversation(ctx, chatapi.StartRequest{
			Topic:        s.Topic,
			Agents:       s.Agents,
			MessageCount: s.MessageCount,
		})
		if err != nil {
			return errors.Wrap(err, "start conversation")
		}
		convID = resp.ConversationID
		log.Info().Str("conv_id", convID).Str("status", resp.Status).Msg("started conversation")
	}

	follower, err := redisstream.Subscribe(ctx, ls.local, convID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return ls.engine.Run(ctx) })

	if err := ls.engine.Attach(ctx, convID); err != nil {
		cancel()
		_ = eg.Wait()
		return errors.Wrapf(err, "attach %s", convID)
	}

	if s.Generate {
		eg.Go(func() error {
			if err := ls.client.Generate(ctx, convID); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("conv_id", convID).Msg("generate request failed")
			}
			return nil
		})
	}

	if s.TUI {
		model, err := ui.NewModel(func(content string) error {
			return ls.send(ctx, convID, content)
		}, ui.WithColor(true), ui.WithMarkdown(s.Markdown))
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(w))
		eg.Go(func() error {
			return ignoreCanceled(follower.Run(ctx, ui.ForwardSnapshots(p)))
		})
		eg.Go(func() error {
			defer cancel()
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		})
	} else {
		color := false
		if f, ok := w.(*os.File); ok {
			color = isatty.IsTerminal(f.Fd())
		}
		renderer, err := ui.NewPlainRenderer(w, ui.WithColor(color), ui.WithMarkdown(s.Markdown))
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		eg.Go(func() error {
			return ignoreCanceled(follower.Run(ctx, func(snap chatsync.Snapshot) error {
				if err := renderer.Render(snap); err != nil {
					return err
				}
				if !s.Follow && conversationOver(snap) {
					log.Debug().Str("conv_id", convID).Str("status", snap.Status).Msg("conversation over")
					cancel()
				}
				return nil
			}))
		})
	}

	err = eg.Wait()
	live := ls.engine.Snapshot()
	ls.engine.Detach()
	ls.checkReplay(context.WithoutCancel(ctx), convID, live)
	return ignoreCanceled(err)
}
