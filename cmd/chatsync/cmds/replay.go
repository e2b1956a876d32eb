package cmds

import (
	"context"
	"encoding/json"
	"io"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatsync/pkg/ui"
)

type ReplayCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ReplayCommand)(nil)

type ReplaySettings struct {
	ConversationID string `glazed:"conversation-id"`
	Output         string `glazed:"output"`
	Limit          int    `glazed:"limit"`
	Markdown       bool   `glazed:"markdown"`
}

func NewReplayCommand() (*ReplayCommand, error) {
	sections, err := newSections(withJournal)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"replay",
		cmds.WithShort("Rebuild a conversation timeline from the frame journal"),
		cmds.WithLong(`Feed the journaled frames of a conversation back through the classifier
and merger, offline, and print the resulting snapshot.`),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString, fields.WithHelp("Conversation id")),
		),
		cmds.WithFlags(
			fields.New("output", fields.TypeChoice,
				fields.WithDefault("text"),
				fields.WithChoices("text", "json", "yaml"),
				fields.WithHelp("Output format")),
			fields.New("limit", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Replay only the first N frames (0 = all)")),
			fields.New("markdown", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Render message content as markdown in text output")),
		),
		cmds.WithSections(sections...),
	)
	return &ReplayCommand{CommandDescription: desc}, nil
}

func (c *ReplayCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &ReplaySettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode replay settings")
	}
	js := chatstore.Settings{}
	if err := parsed.DecodeSectionInto(chatstore.SectionSlug, &js); err != nil {
		return errors.Wrap(err, "decode journal settings")
	}
	journal, err := js.Open()
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	records, err := journal.Load(ctx, s.ConversationID, 0, s.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.Errorf("no journaled frames for %s", s.ConversationID)
	}
	snap := chatsync.Replay(s.ConversationID, chatstore.Frames(records), log.Logger.With().Str("component", "replay").Logger())
	log.Debug().Int("frames", len(records)).Int("timeline", len(snap.Timeline)).Msg("replayed journal")

	return writeSnapshot(w, snap, s.Output, s.Markdown)
}

func writeSnapshot(w io.Writer, snap chatsync.Snapshot, format string, markdown bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		// through JSON so the yaml keys match the wire names
		b, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(doc)
	default:
		r, err := ui.NewPlainRenderer(w, ui.WithMarkdown(markdown))
		if err != nil {
			return err
		}
		return r.Render(snap)
	}
}
