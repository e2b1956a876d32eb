package chatsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *recordingSink) Deliver(_ context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

type fakeTransport struct {
	mode  TransportMode
	err   error
	block bool
	ran   int
}

func (f *fakeTransport) Mode() TransportMode { return f.mode }

func (f *fakeTransport) Run(ctx context.Context, sink Sink) error {
	f.ran++
	if f.block {
		<-ctx.Done()
		return nil
	}
	return f.err
}

func TestSelectorFallsBackToPullOnPushFailure(t *testing.T) {
	push := &fakeTransport{mode: TransportPush, err: &PushFailure{Stage: "read", CloseCode: 1011}}
	pull := &fakeTransport{mode: TransportPull}
	sink := &recordingSink{}

	require.NoError(t, NewSelector(push, pull, zerolog.Nop()).Run(context.Background(), sink))
	require.Equal(t, 1, pull.ran)

	frames := sink.Frames()
	require.Len(t, frames, 1)
	require.Equal(t, StateDegraded, frames[0].State)
	require.Equal(t, TransportPull, frames[0].Source)
	require.Contains(t, frames[0].Err, "close 1011")
}

func TestSelectorModeFollowsActiveLeg(t *testing.T) {
	push := &fakeTransport{mode: TransportPush, err: &PushFailure{Stage: "handshake"}}
	pull := &fakeTransport{mode: TransportPull}

	sel := NewSelector(push, pull, zerolog.Nop())
	require.Equal(t, TransportPush, sel.Mode())
	require.NoError(t, sel.Run(context.Background(), &recordingSink{}))
	require.Equal(t, TransportPull, sel.Mode())

	require.Equal(t, TransportPull, NewSelector(nil, pull, zerolog.Nop()).Mode())
}

func TestSelectorNormalCloseDoesNotPoll(t *testing.T) {
	push := &fakeTransport{mode: TransportPush}
	pull := &fakeTransport{mode: TransportPull}
	sink := &recordingSink{}

	require.NoError(t, NewSelector(push, pull, zerolog.Nop()).Run(context.Background(), sink))
	require.Equal(t, 0, pull.ran)
	frames := sink.Frames()
	require.Len(t, frames, 1)
	require.Equal(t, StateClosed, frames[0].State)
}

func TestSelectorWithoutPullReportsError(t *testing.T) {
	push := &fakeTransport{mode: TransportPush, err: errors.New("dial tcp: refused")}
	sink := &recordingSink{}

	require.Error(t, NewSelector(push, nil, zerolog.Nop()).Run(context.Background(), sink))
	frames := sink.Frames()
	require.Len(t, frames, 1)
	require.Equal(t, StateError, frames[0].State)
}

func TestSelectorCancelledPushDoesNotFallBack(t *testing.T) {
	push := &fakeTransport{mode: TransportPush, block: true}
	pull := &fakeTransport{mode: TransportPull}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, NewSelector(push, pull, zerolog.Nop()).Run(ctx, &recordingSink{}))
	require.Equal(t, 0, pull.ran)
}

type scriptedPoller struct {
	mu    sync.Mutex
	calls int
	fail  int
	res   PollResult
}

func (p *scriptedPoller) Poll(_ context.Context, _ string) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fail {
		return PollResult{}, errors.New("503 service unavailable")
	}
	return p.res, nil
}

func (p *scriptedPoller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestPullTransportRetriesAfterFailures(t *testing.T) {
	poller := &scriptedPoller{fail: 2, res: PollResult{Messages: []Message{finalMsg("m1", "one")}}}
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := NewPullTransport("c1", poller, 10*time.Millisecond, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return len(sink.Frames()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	frames := sink.Frames()
	require.Equal(t, StateError, frames[0].State)
	require.Equal(t, StateError, frames[1].State)
	require.Equal(t, FramePoll, frames[2].Kind)
	require.Len(t, frames[2].Poll.Messages, 1)
}

func TestPullIntervalIsClampedBelowTwoSeconds(t *testing.T) {
	require.Equal(t, DefaultPollInterval, NewPullTransport("c1", &scriptedPoller{}, 5*time.Second, zerolog.Nop()).interval)
	require.Equal(t, DefaultPollInterval, NewPullTransport("c1", &scriptedPoller{}, 0, zerolog.Nop()).interval)
	require.Equal(t, 500*time.Millisecond, NewPullTransport("c1", &scriptedPoller{}, 500*time.Millisecond, zerolog.Nop()).interval)
}

func TestFallbackCloseCodes(t *testing.T) {
	require.True(t, IsFallbackCloseCode(1006))
	require.True(t, IsFallbackCloseCode(1011))
	require.True(t, IsFallbackCloseCode(4401))
	require.False(t, IsFallbackCloseCode(1000))
	require.False(t, IsFallbackCloseCode(1001))
}
