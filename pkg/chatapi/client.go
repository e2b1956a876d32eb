package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client talks to the multi-agent conversation backend under <base>/api.
// It satisfies chatsync.Poller and chatsync.HistoryFetcher.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("base URL is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: log.Logger.With().Str("component", "chatapi").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var (
	_ chatsync.Poller         = (*Client)(nil)
	_ chatsync.HistoryFetcher = (*Client)(nil)
)

// StartConversation creates a conversation and returns its id.
func (c *Client) StartConversation(ctx context.Context, req StartRequest) (StartResponse, error) {
	var resp StartResponse
	if strings.TrimSpace(req.Topic) == "" {
		return resp, errors.New("topic is empty")
	}
	if len(req.Agents) == 0 {
		return resp, errors.New("at least one agent is required")
	}
	if err := c.do(ctx, http.MethodPost, c.apiPath("conversation", "start"), req, &resp); err != nil {
		return resp, err
	}
	if resp.ConversationID == "" {
		return resp, errors.New("start response carried no conversation_id")
	}
	return resp, nil
}

// History returns the full ordered message log.
func (c *Client) History(ctx context.Context, conversationID string) ([]chatsync.Message, error) {
	p, err := c.conversationPath(conversationID, "messages")
	if err != nil {
		return nil, err
	}
	var msgs []chatsync.Message
	if err := c.do(ctx, http.MethodGet, p, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a user message. Its echo arrives as a user_message event or
// in the next poll.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message content is empty")
	}
	p, err := c.conversationPath(conversationID, "message")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, p, map[string]string{"content": content}, nil)
}

// FetchPoll returns the complete poll response including bookkeeping fields.
func (c *Client) FetchPoll(ctx context.Context, conversationID string) (PollResponse, error) {
	var resp PollResponse
	p, err := c.conversationPath(conversationID, "poll")
	if err != nil {
		return resp, err
	}
	err = c.do(ctx, http.MethodGet, p, nil, &resp)
	return resp, err
}

func (c *Client) Poll(ctx context.Context, conversationID string) (chatsync.PollResult, error) {
	resp, err := c.FetchPoll(ctx, conversationID)
	if err != nil {
		return chatsync.PollResult{}, err
	}
	if resp.TotalMessages != 0 && resp.TotalMessages != len(resp.Messages) {
		c.logger.Debug().
			Str("conv_id", conversationID).
			Int("total_messages", resp.TotalMessages).
			Int("messages", len(resp.Messages)).
			Msg("poll returned a truncated message list")
	}
	return chatsync.PollResult{Messages: resp.Messages, Status: resp.ConversationStatus}, nil
}

// Agents lists the available agent types keyed by type.
func (c *Client) Agents(ctx context.Context) (map[string]AgentInfo, error) {
	agents := map[string]AgentInfo{}
	if err := c.do(ctx, http.MethodGet, c.apiPath("agents"), nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// Generate asks the backend to run one autonomous round. The backend answers
// once the round is over; progress arrives over the push or pull channel.
func (c *Client) Generate(ctx context.Context, conversationID string) error {
	p, err := c.conversationPath(conversationID, "generate")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, p, nil, nil)
}

// GenerateImage requests an image message for the conversation.
func (c *Client) GenerateImage(ctx context.Context, conversationID, prompt string) (ImageResponse, error) {
	var resp ImageResponse
	if strings.TrimSpace(prompt) == "" {
		return resp, errors.New("image prompt is empty")
	}
	if strings.TrimSpace(conversationID) == "" {
		return resp, errors.New("conversation id is empty")
	}
	body := map[string]string{"prompt": prompt, "conversation_id": conversationID}
	if err := c.do(ctx, http.MethodPost, c.apiPath("image", "generate"), body, &resp); err != nil {
		return resp, err
	}
	if resp.Status == "error" {
		return resp, errors.Errorf("image generation failed: %s", resp.Message)
	}
	return resp, nil
}

// PushURL derives the websocket address of a conversation from the base URL.
func (c *Client) PushURL(conversationID string) (string, error) {
	p, err := c.conversationWSPath(conversationID)
	if err != nil {
		return "", err
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = p
	u.RawQuery = ""
	return u.String(), nil
}

func (c *Client) apiPath(parts ...string) string {
	elems := append([]string{"/", c.base.Path, "api"}, parts...)
	return path.Join(elems...)
}

func (c *Client) conversationPath(conversationID, action string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", errors.New("conversation id is empty")
	}
	return c.apiPath("conversation", id, action), nil
}

func (c *Client) conversationWSPath(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", errors.New("conversation id is empty")
	}
	return c.apiPath("ws", id), nil
}

func (c *Client) do(ctx context.Context, method, p string, in, out any) error {
	u := *c.base
	u.Path = p
	u.RawPath = ""

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, p)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Trace().Str("method", method).Str("path", p).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: p, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, p)
	}
	return nil
}
