package cmds

import (
	"context"
	"strconv"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/persistence/chatstore"
)

// glazeSections adds the glazed output sections to the named ones.
func glazeSections(kinds ...sectionKind) ([]schema.Section, error) {
	extra, err := newSections(kinds...)
	if err != nil {
		return nil, err
	}
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	return append([]schema.Section{glazedSection, commandSettingsSection}, extra...), nil
}

func openJournal(parsed *values.Values) (*chatstore.SQLiteJournal, error) {
	js := chatstore.Settings{}
	if err := parsed.DecodeSectionInto(chatstore.SectionSlug, &js); err != nil {
		return nil, errors.Wrap(err, "decode journal settings")
	}
	return js.Open()
}

type ConversationsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ConversationsCommand)(nil)

type ConversationsSettings struct {
	Limit   int `glazed:"limit"`
	SinceMs int `glazed:"since-ms"`
}

func NewConversationsCommand() (*ConversationsCommand, error) {
	sections, err := glazeSections(withJournal)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"conversations",
		cmds.WithShort("List conversations recorded in the frame journal"),
		cmds.WithFlags(
			fields.New("limit", fields.TypeInteger, fields.WithDefault(200), fields.WithHelp("Maximum number of conversations")),
			fields.New("since-ms", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Only conversations active since this unix time in ms")),
		),
		cmds.WithSections(sections...),
	)
	return &ConversationsCommand{CommandDescription: desc}, nil
}

func (c *ConversationsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ConversationsSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	journal, err := openJournal(parsed)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	records, err := journal.ListConversations(ctx, s.Limit, int64(s.SinceMs))
	if err != nil {
		return err
	}
	for _, r := range records {
		row := types.NewRow(
			types.MRP("conv_id", r.ConvID),
			types.MRP("status", r.Status),
			types.MRP("frame_count", r.FrameCount),
			types.MRP("last_epoch", r.LastEpoch),
			types.MRP("created_at_ms", r.CreatedAtMs),
			types.MRP("last_activity_ms", r.LastActivityMs),
			types.MRP("last_error", r.LastError),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type FramesCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*FramesCommand)(nil)

type FramesSettings struct {
	ConversationID string `glazed:"conversation-id"`
	SinceSeq       int    `glazed:"since-seq"`
	Limit          int    `glazed:"limit"`
}

func NewFramesCommand() (*FramesCommand, error) {
	sections, err := glazeSections(withJournal)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"frames",
		cmds.WithShort("List the journaled frames of a conversation"),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString, fields.WithHelp("Conversation id")),
		),
		cmds.WithFlags(
			fields.New("since-seq", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Only frames after this sequence number")),
			fields.New("limit", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Maximum number of frames (0 = all)")),
		),
		cmds.WithSections(sections...),
	)
	return &FramesCommand{CommandDescription: desc}, nil
}

func (c *FramesCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &FramesSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	if s.SinceSeq < 0 {
		return errors.New("since-seq must be >= 0")
	}
	journal, err := openJournal(parsed)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	records, err := journal.Load(ctx, s.ConversationID, uint64(s.SinceSeq), s.Limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		row := types.NewRow(
			types.MRP("seq", r.Seq),
			types.MRP("recorded_at_ms", r.RecordedAtMs),
			types.MRP("epoch", r.Frame.Epoch),
			types.MRP("kind", string(r.Frame.Kind)),
			types.MRP("source", string(r.Frame.Source)),
			types.MRP("detail", frameDetail(r.Frame)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// frameDetail is a one-line summary: the event type, the poll size or the
// state transition.
func frameDetail(f chatsync.Frame) string {
	switch f.Kind {
	case chatsync.FrameEvent:
		ev, err := chatsync.DecodeEvent(f.Payload)
		if err != nil {
			return "malformed: " + err.Error()
		}
		if ev.Message != nil {
			return string(ev.Kind) + " " + ev.Message.ID
		}
		return string(ev.Kind)
	case chatsync.FramePoll, chatsync.FrameHistory:
		if f.Poll == nil {
			return ""
		}
		d := pluralize(len(f.Poll.Messages), "message")
		if f.Poll.Status != "" {
			d += " status=" + f.Poll.Status
		}
		return d
	case chatsync.FrameState:
		if f.Err != "" {
			return string(f.State) + ": " + f.Err
		}
		return string(f.State)
	default:
		return ""
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
