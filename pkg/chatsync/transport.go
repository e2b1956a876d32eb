package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// FrameKind distinguishes what a transport delivered.
type FrameKind string

const (
	// FrameEvent carries one raw push event payload.
	FrameEvent FrameKind = "event"
	// FramePoll carries a full poll result.
	FramePoll FrameKind = "poll"
	// FrameState reports a transport state transition.
	FrameState FrameKind = "state"
	// FrameHistory carries the history seed fetched on attach, in Poll.Messages.
	FrameHistory FrameKind = "history"
)

// Frame is the unit both transports feed into the engine queue.
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	Source  TransportMode   `json:"source"`
	Epoch   uint64          `json:"epoch"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Poll    *PollResult     `json:"poll,omitempty"`
	State   ConnectionState `json:"state,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// PollResult is the full message list plus status returned by the pull endpoint.
type PollResult struct {
	Messages []Message `json:"messages"`
	Status   string    `json:"conversation_status"`
}

// Sink receives frames from a transport. Deliver blocks until the frame is
// queued or ctx is done.
type Sink interface {
	Deliver(ctx context.Context, f Frame) error
}

// Transport is one way of receiving conversation updates.
type Transport interface {
	Mode() TransportMode
	// Run blocks until the transport ends or ctx is cancelled.
	Run(ctx context.Context, sink Sink) error
}

// Poller fetches the complete current message list and status of a conversation.
type Poller interface {
	Poll(ctx context.Context, conversationID string) (PollResult, error)
}

// HistoryFetcher returns the authoritative ordered message log of a conversation.
type HistoryFetcher interface {
	History(ctx context.Context, conversationID string) ([]Message, error)
}

// PushFailure reports a push channel that failed in a way that warrants falling
// back to polling.
type PushFailure struct {
	Stage      string
	StatusCode int
	CloseCode  int
	Err        error
}

func (f *PushFailure) Error() string {
	msg := fmt.Sprintf("push transport failed during %s", f.Stage)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", f.StatusCode)
	}
	if f.CloseCode != 0 {
		msg += fmt.Sprintf(" (close %d)", f.CloseCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *PushFailure) Unwrap() error { return f.Err }

// Selector runs push first and demotes to pull once when push fails. There is
// no promotion back to push within one Run.
type Selector struct {
	push   Transport
	pull   Transport
	logger zerolog.Logger

	mu     sync.Mutex
	active TransportMode
}

var _ Transport = (*Selector)(nil)

func NewSelector(push, pull Transport, logger zerolog.Logger) *Selector {
	s := &Selector{push: push, pull: pull, logger: logger, active: TransportNone}
	switch {
	case push != nil:
		s.active = TransportPush
	case pull != nil:
		s.active = TransportPull
	}
	return s
}

// Mode reports the leg currently in use: push until demotion, pull after.
func (s *Selector) Mode() TransportMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Selector) setActive(m TransportMode) {
	s.mu.Lock()
	s.active = m
	s.mu.Unlock()
}

func (s *Selector) Run(ctx context.Context, sink Sink) error {
	reason := "push transport not configured"
	if s.push != nil {
		err := s.push.Run(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		var pf *PushFailure
		if err == nil {
			s.logger.Info().Msg("push channel closed normally")
			_ = sink.Deliver(ctx, Frame{Kind: FrameState, Source: TransportPush, State: StateClosed})
			return nil
		}
		if !errors.As(err, &pf) {
			s.logger.Warn().Err(err).Msg("push transport stopped unexpectedly")
		} else {
			s.logger.Warn().Err(err).Msg("push transport failed, falling back to polling")
		}
		reason = err.Error()
	}
	if s.pull == nil {
		s.setActive(TransportNone)
		_ = sink.Deliver(ctx, Frame{Kind: FrameState, Source: TransportNone, State: StateError, Err: reason})
		return errors.New("no pull transport configured")
	}
	s.setActive(TransportPull)
	if err := sink.Deliver(ctx, Frame{Kind: FrameState, Source: TransportPull, State: StateDegraded, Err: reason}); err != nil {
		return nil
	}
	return s.pull.Run(ctx, sink)
}
