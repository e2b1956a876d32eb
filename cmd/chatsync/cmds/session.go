package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chatapi"
	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatsync/pkg/redisstream"
)

// sectionSettings are the non-default sections shared by the live commands.
type sectionSettings struct {
	API     chatapi.Settings
	Redis   redisstream.Settings
	Journal chatstore.Settings
}

func decodeSections(parsed *values.Values, redis, journal bool) (sectionSettings, error) {
	var s sectionSettings
	if err := parsed.DecodeSectionInto(chatapi.SectionSlug, &s.API); err != nil {
		return s, errors.Wrap(err, "decode api settings")
	}
	if redis {
		if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &s.Redis); err != nil {
			return s, errors.Wrap(err, "decode redis settings")
		}
	}
	if journal {
		if err := parsed.DecodeSectionInto(chatstore.SectionSlug, &s.Journal); err != nil {
			return s, errors.Wrap(err, "decode journal settings")
		}
	}
	return s, nil
}

// liveSession bundles everything a watching command needs: the API client,
// the engine and the buses its snapshots are published on.
type liveSession struct {
	client *chatapi.Client
	engine *chatsync.Engine
	// local carries snapshots to the renderer of this process.
	local *redisstream.Bus
	// remote mirrors snapshots to Redis Streams when enabled.
	remote  *redisstream.Bus
	journal chatstore.FrameJournal
	// verifyReplay is set when the journal only lives for this process.
	verifyReplay bool
}

type liveOptions struct {
	pullOnly     bool
	pollInterval time.Duration
}

func openLiveSession(s sectionSettings, opts liveOptions) (*liveSession, error) {
	logger := log.Logger.With().Str("component", "chatsync").Logger()

	client, err := chatapi.NewClientFromSettings(s.API, log.Logger.With().Str("component", "chatapi").Logger())
	if err != nil {
		return nil, err
	}
	ls := &liveSession{client: client}

	ls.local, err = redisstream.BuildBus(redisstream.Settings{}, busLogger())
	if err != nil {
		return nil, errors.Wrap(err, "local update bus")
	}
	engineOpts := []chatsync.Option{
		chatsync.WithLogger(logger),
		chatsync.WithPoller(client),
		chatsync.WithHistory(client),
		chatsync.WithObserver(redisstream.NewUpdatePublisher(ls.local, busLogger())),
	}
	if !opts.pullOnly {
		engineOpts = append(engineOpts, chatsync.WithPushURL(client.PushURL))
	}
	if opts.pollInterval > 0 {
		engineOpts = append(engineOpts, chatsync.WithPollInterval(opts.pollInterval))
	}

	if s.Redis.Enabled {
		ls.remote, err = redisstream.BuildBus(s.Redis, busLogger())
		if err != nil {
			ls.Close()
			return nil, errors.Wrap(err, "redis update bus")
		}
		engineOpts = append(engineOpts, chatsync.WithObserver(redisstream.NewUpdatePublisher(ls.remote, busLogger())))
		log.Info().Str("addr", s.Redis.Addr).Str("prefix", s.Redis.TopicPrefix).Msg("mirroring updates to redis streams")
	}

	if s.Journal.Configured() {
		j, err := s.Journal.Open()
		if err != nil {
			ls.Close()
			return nil, errors.Wrap(err, "open journal")
		}
		ls.journal = j
	} else {
		ls.journal = chatstore.NewInMemoryJournal(0)
		ls.verifyReplay = true
	}
	engineOpts = append(engineOpts, chatsync.WithJournal(ls.journal))

	ls.engine = chatsync.NewEngine(engineOpts...)
	return ls, nil
}

func (ls *liveSession) Close() {
	if ls.engine != nil {
		ls.engine.Detach()
	}
	for _, b := range []*redisstream.Bus{ls.local, ls.remote} {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("closing update bus")
		}
	}
	if ls.journal != nil {
		if err := ls.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("closing journal")
		}
	}
}

// checkReplay rebuilds the session from the in-process journal and warns when
// it disagrees with what was rendered live.
func (ls *liveSession) checkReplay(ctx context.Context, conversationID string, live chatsync.Snapshot) {
	if !ls.verifyReplay {
		return
	}
	logger := log.Logger.With().Str("component", "replay").Str("conv_id", conversationID).Logger()
	check, err := chatstore.CheckReplay(ctx, ls.journal, conversationID, live, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("replay check failed")
		return
	}
	if !check.Complete {
		logger.Debug().Int("frames", check.Frames).Msg("journal evicted frames, replay check skipped")
		return
	}
	if !check.Consistent() {
		logger.Warn().Strs("missing", check.Missing).Strs("extra", check.Extra).Msg("replayed timeline differs from live timeline")
		return
	}
	logger.Debug().Int("frames", check.Frames).Msg("replay matches live timeline")
}

// send shows content immediately and posts it to the backend.
func (ls *liveSession) send(ctx context.Context, conversationID, content string) error {
	if _, err := ls.engine.AddLocalUserMessage(content); err != nil {
		return err
	}
	return ls.client.SendMessage(ctx, conversationID, content)
}

func busLogger() zerolog.Logger {
	return log.Logger.With().Str("component", "bus").Logger()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// conversationOver reports whether nothing more is expected for a snapshot's
// conversation.
func conversationOver(snap chatsync.Snapshot) bool {
	if chatsync.IsTerminalStatus(snap.Status) {
		return true
	}
	if snap.Session.ConnectionState == chatsync.StateClosed {
		return true
	}
	return !snap.Collaborating
}
