package chatsync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	// MaxPollInterval is exclusive: the pull channel always ticks faster than this.
	MaxPollInterval = 2 * time.Second
)

// PullTransport polls the full message list on a fixed interval. It never
// gives up: failures are reported as error state frames and retried on the
// next tick until ctx is cancelled.
type PullTransport struct {
	conversationID string
	poller         Poller
	interval       time.Duration
	logger         zerolog.Logger
}

func NewPullTransport(conversationID string, poller Poller, interval time.Duration, logger zerolog.Logger) *PullTransport {
	if interval <= 0 || interval >= MaxPollInterval {
		interval = DefaultPollInterval
	}
	return &PullTransport{
		conversationID: conversationID,
		poller:         poller,
		interval:       interval,
		logger:         logger,
	}
}

func (t *PullTransport) Mode() TransportMode { return TransportPull }

func (t *PullTransport) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("polling started")
	failures := 0
	for {
		if !t.pollOnce(ctx, sink, &failures) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce returns false once the sink no longer accepts frames.
func (t *PullTransport) pollOnce(ctx context.Context, sink Sink, failures *int) bool {
	res, err := t.poller.Poll(ctx, t.conversationID)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		*failures++
		t.logger.Warn().Err(err).Int("consecutive_failures", *failures).Msg("poll request failed, retrying next tick")
		return sink.Deliver(ctx, Frame{Kind: FrameState, Source: TransportPull, State: StateError, Err: err.Error()}) == nil
	}
	if *failures > 0 {
		t.logger.Info().Int("after_failures", *failures).Msg("poll request recovered")
	}
	*failures = 0
	return sink.Deliver(ctx, Frame{Kind: FramePoll, Source: TransportPull, Poll: &res}) == nil
}
