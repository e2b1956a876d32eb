package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chatapi"
)

type SendCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*SendCommand)(nil)

type SendSettings struct {
	ConversationID string `glazed:"conversation-id"`
	Content        string `glazed:"content"`
	Generate       bool   `glazed:"generate"`
	Image          bool   `glazed:"image"`
}

func NewSendCommand() (*SendCommand, error) {
	sections, err := newSections(withAPI)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"send",
		cmds.WithShort("Post a user message to a conversation"),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString, fields.WithHelp("Conversation id")),
			fields.New("content", fields.TypeString, fields.WithHelp("Message text, or the image prompt with --image")),
		),
		cmds.WithFlags(
			fields.New("generate", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Run one autonomous round after sending")),
			fields.New("image", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Request an image for the prompt instead of posting a message")),
		),
		cmds.WithSections(sections...),
	)
	return &SendCommand{CommandDescription: desc}, nil
}

func (c *SendCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &SendSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode send settings")
	}
	sections, err := decodeSections(parsed, false, false)
	if err != nil {
		return err
	}
	client, err := chatapi.NewClientFromSettings(sections.API, log.Logger.With().Str("component", "chatapi").Logger())
	if err != nil {
		return err
	}

	if s.Image {
		resp, err := client.GenerateImage(ctx, s.ConversationID, s.Content)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "image: %s\n", resp.URL)
		return err
	}

	if err := client.SendMessage(ctx, s.ConversationID, s.Content); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "sent to %s\n", s.ConversationID); err != nil {
		return err
	}
	if s.Generate {
		if err := client.Generate(ctx, s.ConversationID); err != nil {
			return errors.Wrap(err, "generate")
		}
		_, err = fmt.Fprintln(w, "round finished")
		return err
	}
	return nil
}
