package chatsync

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Observer is notified after every frame that changed the visible state.
type Observer interface {
	Observe(ctx context.Context, snap Snapshot)
}

type ObserverFunc func(ctx context.Context, snap Snapshot)

func (f ObserverFunc) Observe(ctx context.Context, snap Snapshot) { f(ctx, snap) }

// Journal records every frame the engine accepted, in application order.
type Journal interface {
	Append(ctx context.Context, conversationID string, f Frame) error
}

// PushURLFunc resolves the websocket address of a conversation.
type PushURLFunc func(conversationID string) (string, error)

// LocalIDPrefix marks ids of optimistic local user messages. They never reach
// the journal.
const LocalIDPrefix = "local-"

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithPushURL(fn PushURLFunc) Option { return func(e *Engine) { e.pushURL = fn } }

func WithDialer(d *websocket.Dialer) Option { return func(e *Engine) { e.dialer = d } }

func WithPushHeader(h http.Header) Option { return func(e *Engine) { e.header = h } }

func WithPoller(p Poller) Option { return func(e *Engine) { e.poller = p } }

func WithHistory(h HistoryFetcher) Option { return func(e *Engine) { e.history = h } }

func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func WithPollInterval(d time.Duration) Option { return func(e *Engine) { e.pollInterval = d } }

func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine keeps one conversation's timeline in sync with the backend. Transports
// feed frames into a queue drained by Run; all state changes happen there, one
// frame at a time.
type Engine struct {
	logger       zerolog.Logger
	pushURL      PushURLFunc
	dialer       *websocket.Dialer
	header       http.Header
	poller       Poller
	history      HistoryFetcher
	journal      Journal
	observers    []Observer
	pollInterval time.Duration
	queueSize    int
	now          func() time.Time

	classifier *Classifier
	queue      chan Frame

	mu      sync.Mutex
	epoch   uint64
	st      *syncState
	version uint64
	snap    Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:       log.Logger.With().Str("component", "chatsync").Logger(),
		pollInterval: DefaultPollInterval,
		queueSize:    256,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.classifier = NewClassifier(e.logger)
	e.queue = make(chan Frame, e.queueSize)
	e.snap = Snapshot{Session: Session{TransportMode: TransportNone, ConnectionState: StateClosed}}
	return e
}

type queueSink struct {
	ch    chan<- Frame
	epoch uint64
}

func (s queueSink) Deliver(ctx context.Context, f Frame) error {
	f.Epoch = s.epoch
	select {
	case s.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach binds the engine to conversationID, replacing any previous session.
// History is fetched synchronously; its failure is logged and leaves the log
// empty. Transports then run in the background until Detach. Frames are only
// applied while Run is draining the queue.
func (e *Engine) Attach(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errors.New("conversation id is empty")
	}
	e.Detach()

	logger := e.logger.With().Str("conv_id", conversationID).Logger()
	transport, err := e.buildTransport(conversationID, logger)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.st = newSyncState(conversationID)
	e.st.collaborating = true
	snap := e.publishLocked()
	e.mu.Unlock()
	e.notify(ctx, snap)

	var seed []Message
	if e.history != nil {
		msgs, err := e.history.History(ctx, conversationID)
		if err != nil {
			logger.Warn().Err(err).Msg("history fetch failed, starting with an empty log")
		} else {
			seed = msgs
		}
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return errors.Errorf("attach to %s superseded", conversationID)
	}
	var seedFrame *Frame
	if len(seed) > 0 {
		f := Frame{Kind: FrameHistory, Source: TransportNone, Epoch: epoch, Poll: &PollResult{Messages: seed}}
		seedFrame = &f
		e.st.seed(seed)
		snap = e.publishLocked()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	if seedFrame != nil {
		e.record(ctx, conversationID, *seedFrame)
		e.notify(ctx, snap)
	}

	go func() {
		defer close(done)
		if err := transport.Run(runCtx, queueSink{ch: e.queue, epoch: epoch}); err != nil {
			logger.Error().Err(err).Msg("transport stopped")
		}
	}()
	logger.Info().Int("history", len(seed)).Msg("attached")
	return nil
}

func (e *Engine) buildTransport(conversationID string, logger zerolog.Logger) (Transport, error) {
	var push, pull Transport
	if e.pushURL != nil {
		url, err := e.pushURL(conversationID)
		if err != nil {
			return nil, errors.Wrap(err, "resolve push url")
		}
		push = NewPushTransport(url, e.dialer, e.header, logger.With().Str("transport", "push").Logger())
	}
	if e.poller != nil {
		pull = NewPullTransport(conversationID, e.poller, e.pollInterval, logger.With().Str("transport", "pull").Logger())
	}
	if push == nil && pull == nil {
		return nil, errors.New("no transport configured")
	}
	return NewSelector(push, pull, logger), nil
}

// Detach stops the transports and clears the session. It is safe to call when
// nothing is attached.
func (e *Engine) Detach() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	if e.st == nil {
		e.mu.Unlock()
		return
	}
	e.epoch++
	convID := e.st.session.ConversationID
	e.st = nil
	snap := e.publishLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	e.logger.Info().Str("conv_id", convID).Msg("detached")
	e.notify(context.Background(), snap)
}

// Run drains the frame queue until ctx is cancelled. Only one Run may be active.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-e.queue:
			e.Apply(ctx, f)
		}
	}
}

// Apply processes one frame of the current attach cycle. Frames from an older
// cycle are dropped. It reports whether the visible state changed.
func (e *Engine) Apply(ctx context.Context, f Frame) bool {
	e.mu.Lock()
	if e.st == nil || f.Epoch != e.epoch {
		e.mu.Unlock()
		e.logger.Trace().Uint64("epoch", f.Epoch).Str("kind", string(f.Kind)).Msg("dropping stale frame")
		return false
	}
	convID := e.st.session.ConversationID
	changed := e.applyLocked(f)
	var snap Snapshot
	if changed {
		snap = e.publishLocked()
	}
	e.mu.Unlock()

	e.record(ctx, convID, f)
	if changed {
		e.notify(ctx, snap)
	}
	return changed
}

func (e *Engine) applyLocked(f Frame) bool {
	return applyFrame(e.st, e.classifier, f, e.logger)
}

func applyFrame(st *syncState, c *Classifier, f Frame, logger zerolog.Logger) bool {
	switch f.Kind {
	case FrameEvent:
		if f.Source == TransportPush && st.session.TransportMode == TransportPull {
			return false
		}
		return c.classify(st, f.Payload)
	case FramePoll:
		if f.Poll == nil {
			return false
		}
		return st.applyPoll(*f.Poll)
	case FrameHistory:
		if f.Poll == nil {
			return false
		}
		st.seed(f.Poll.Messages)
		return true
	case FrameState:
		if f.Err != "" {
			logger.Debug().Str("state", string(f.State)).Str("reason", f.Err).Msg("transport state")
		}
		return st.applyState(f)
	default:
		logger.Debug().Str("kind", string(f.Kind)).Msg("ignoring unknown frame kind")
		return false
	}
}

// AddLocalUserMessage shows content immediately as a user message. The entry is
// replaced by the backend echo once a user_message with the same content
// arrives or a poll returns it.
func (e *Engine) AddLocalUserMessage(content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, errors.New("message content is empty")
	}
	e.mu.Lock()
	if e.st == nil {
		e.mu.Unlock()
		return Message{}, errors.New("no conversation attached")
	}
	msg := Message{
		ID:        LocalIDPrefix + uuid.NewString(),
		IsUser:    true,
		Content:   content,
		Timestamp: e.now().UTC(),
		Finalized: true,
	}
	e.st.addLocal(msg)
	snap := e.publishLocked()
	e.mu.Unlock()
	e.notify(context.Background(), snap)
	return msg, nil
}

// SetCollaborating overrides the collaboration flag, e.g. after the user
// starts a new round.
func (e *Engine) SetCollaborating(on bool) {
	e.mu.Lock()
	if e.st == nil || e.st.collaborating == on {
		e.mu.Unlock()
		return
	}
	e.st.collaborating = on
	snap := e.publishLocked()
	e.mu.Unlock()
	e.notify(context.Background(), snap)
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Session
}

func (e *Engine) ConnectionState() ConnectionState {
	return e.Session().ConnectionState
}

func (e *Engine) IsCollaborating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Collaborating
}

// publishLocked rebuilds the cached snapshot and bumps its version.
func (e *Engine) publishLocked() Snapshot {
	e.version++
	if e.st == nil {
		e.snap = Snapshot{
			Session: Session{TransportMode: TransportNone, ConnectionState: StateClosed},
			Version: e.version,
		}
		return e.snap
	}
	e.snap = e.st.snapshot(e.version)
	return e.snap
}

func (e *Engine) notify(ctx context.Context, snap Snapshot) {
	for _, o := range e.observers {
		o.Observe(ctx, snap)
	}
}

func (e *Engine) record(ctx context.Context, conversationID string, f Frame) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, conversationID, f); err != nil {
		e.logger.Warn().Err(err).Str("conv_id", conversationID).Str("kind", string(f.Kind)).Msg("journal append failed")
	}
}

// Replay rebuilds a snapshot offline from recorded frames. A change of epoch
// in the recording starts a fresh attach cycle, as it did live.
func Replay(conversationID string, frames []Frame, logger zerolog.Logger) Snapshot {
	c := NewClassifier(logger)
	st := newSyncState(conversationID)
	st.collaborating = true
	var epoch uint64
	var version uint64
	for i, f := range frames {
		if i > 0 && f.Epoch != epoch {
			st = newSyncState(conversationID)
			st.collaborating = true
		}
		epoch = f.Epoch
		if applyFrame(st, c, f, logger) {
			version++
		}
	}
	return st.snapshot(version)
}
