package chatsync

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Close codes that mean the channel is unusable (auth, handshake or server
// failure) rather than deliberately closed.
var fallbackCloseCodes = map[int]struct{}{
	websocket.CloseNoStatusReceived:  {},
	websocket.CloseAbnormalClosure:   {},
	websocket.ClosePolicyViolation:   {},
	websocket.CloseInternalServerErr: {},
	4401:                             {},
	4403:                             {},
}

// IsFallbackCloseCode reports whether a websocket close code should demote the
// session to polling.
func IsFallbackCloseCode(code int) bool {
	_, ok := fallbackCloseCodes[code]
	return ok
}

// PushTransport receives events over a websocket keyed by conversation id.
type PushTransport struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	logger zerolog.Logger
}

func NewPushTransport(url string, dialer *websocket.Dialer, header http.Header, logger zerolog.Logger) *PushTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &PushTransport{url: url, dialer: dialer, header: header, logger: logger}
}

func (t *PushTransport) Mode() TransportMode { return TransportPush }

func (t *PushTransport) Run(ctx context.Context, sink Sink) error {
	t.logger.Debug().Str("url", t.url).Msg("dialing push channel")
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return &PushFailure{Stage: "handshake", StatusCode: status, Err: err}
	}
	defer func() { _ = conn.Close() }()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detached"),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := sink.Deliver(ctx, Frame{Kind: FrameState, Source: TransportPush, State: StateConnected}); err != nil {
		return nil
	}
	t.logger.Info().Str("url", t.url).Msg("push channel connected")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if !IsFallbackCloseCode(ce.Code) {
					t.logger.Debug().Int("code", ce.Code).Str("reason", ce.Text).Msg("push channel closed")
					return nil
				}
				return &PushFailure{Stage: "read", CloseCode: ce.Code, Err: err}
			}
			return &PushFailure{Stage: "read", Err: err}
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := sink.Deliver(ctx, Frame{Kind: FrameEvent, Source: TransportPush, Payload: data}); err != nil {
			return nil
		}
	}
}
