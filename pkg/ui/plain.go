package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// PlainRenderer appends finalized messages and state changes to a writer as
// they appear in successive snapshots. Streaming content is not printed; the
// typing line stands in for it.
type PlainRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
	md     markdown

	lastVersion uint64
	session     chatsync.Session
	typing      string
	consensus   string
	status      string
	printed     map[string]struct{}
	// local echoes already printed, by content, waiting for their server copy
	localEchoes map[string]int
}

type PlainOption func(*plainConfig)

type plainConfig struct {
	color    bool
	markdown bool
	width    int
}

func WithColor(on bool) PlainOption { return func(c *plainConfig) { c.color = on } }

func WithMarkdown(on bool) PlainOption { return func(c *plainConfig) { c.markdown = on } }

func WithWidth(w int) PlainOption { return func(c *plainConfig) { c.width = w } }

func NewPlainRenderer(w io.Writer, opts ...PlainOption) (*PlainRenderer, error) {
	cfg := plainConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	md, err := newMarkdown(cfg.markdown, cfg.color, cfg.width)
	if err != nil {
		return nil, err
	}
	return &PlainRenderer{
		w:           w,
		styles:      NewStyles(cfg.color),
		md:          md,
		printed:     map[string]struct{}{},
		localEchoes: map[string]int{},
	}, nil
}

// Render prints what changed since the previous snapshot. Snapshots older
// than the last rendered one are ignored.
func (r *PlainRenderer) Render(snap chatsync.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastVersion != 0 && snap.Version <= r.lastVersion {
		return nil
	}
	r.lastVersion = snap.Version

	var b strings.Builder
	if snap.Session != r.session {
		if snap.Session.ConversationID != r.session.ConversationID {
			r.printed = map[string]struct{}{}
			r.localEchoes = map[string]int{}
		}
		r.session = snap.Session
		line := sessionLine(snap.Session)
		if snap.Session.ConnectionState == chatsync.StateError {
			line = r.styles.Error.Render(line)
		} else {
			line = r.styles.Status.Render(line)
		}
		fmt.Fprintf(&b, "-- %s\n", line)
	}

	for _, m := range snap.Timeline {
		if !m.Finalized || r.seen(m) {
			continue
		}
		r.writeMessage(&b, m)
	}

	if t := typingLine(snap.Typing); t != r.typing {
		r.typing = t
		if t != "" {
			fmt.Fprintf(&b, "%s\n", r.styles.Typing.Render(t))
		}
	}
	if c := consensusLine(snap.Consensus); c != r.consensus {
		r.consensus = c
		if c != "" {
			fmt.Fprintf(&b, "%s\n", r.styles.Consensus.Render(c))
		}
	}
	if snap.Status != r.status {
		r.status = snap.Status
		if chatsync.IsTerminalStatus(snap.Status) {
			fmt.Fprintf(&b, "-- %s\n", r.styles.Status.Render("conversation "+snap.Status))
		}
	}

	if b.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// seen reports whether m was already printed, marking it printed otherwise.
// A server copy of a user message that was printed as a local echo counts as
// seen.
func (r *PlainRenderer) seen(m chatsync.Message) bool {
	if _, ok := r.printed[m.ID]; ok {
		return true
	}
	r.printed[m.ID] = struct{}{}
	if !m.IsUser {
		return false
	}
	key := strings.TrimSpace(m.Content)
	if strings.HasPrefix(m.ID, "local-") {
		r.localEchoes[key]++
		return false
	}
	if r.localEchoes[key] > 0 {
		r.localEchoes[key]--
		return true
	}
	return false
}

func (r *PlainRenderer) writeMessage(b *strings.Builder, m chatsync.Message) {
	header := r.styles.Author(m)
	if !m.Timestamp.IsZero() {
		header += " " + r.styles.Timestamp.Render(m.Timestamp.Local().Format("15:04:05"))
	}
	fmt.Fprintf(b, "%s\n%s\n\n", header, messageBody(m, r.md))
}
