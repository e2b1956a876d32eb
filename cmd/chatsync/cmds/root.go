package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatsync/pkg/chatapi"
	"github.com/go-go-golems/chatsync/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatsync/pkg/redisstream"
)

type sectionKind int

const (
	withAPI sectionKind = iota
	withRedis
	withJournal
)

// newSections builds fresh section instances; commands never share them.
func newSections(kinds ...sectionKind) ([]schema.Section, error) {
	out := make([]schema.Section, 0, len(kinds))
	for _, k := range kinds {
		var (
			s   schema.Section
			err error
		)
		switch k {
		case withAPI:
			s, err = chatapi.NewSection()
		case withRedis:
			s, err = redisstream.NewSection()
		case withJournal:
			s, err = chatstore.NewSection()
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AddToRootCommand registers every chatsync command on root.
func AddToRootCommand(root *cobra.Command) error {
	builders := []func() (cmds.Command, error){
		func() (cmds.Command, error) { return NewWatchCommand() },
		func() (cmds.Command, error) { return NewSendCommand() },
		func() (cmds.Command, error) { return NewFollowCommand() },
		func() (cmds.Command, error) { return NewReplayCommand() },
		func() (cmds.Command, error) { return NewConversationsCommand() },
		func() (cmds.Command, error) { return NewFramesCommand() },
		func() (cmds.Command, error) { return NewAgentsCommand() },
	}
	for _, build := range builders {
		c, err := build()
		if err != nil {
			return err
		}
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return err
		}
		root.AddCommand(cobraCmd)
	}
	return nil
}
