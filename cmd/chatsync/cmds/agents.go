package cmds

import (
	"context"
	"sort"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chatapi"
)

type AgentsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*AgentsCommand)(nil)

func NewAgentsCommand() (*AgentsCommand, error) {
	sections, err := glazeSections(withAPI)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"agents",
		cmds.WithShort("List the agent types the backend offers"),
		cmds.WithSections(sections...),
	)
	return &AgentsCommand{CommandDescription: desc}, nil
}

func (c *AgentsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	sections, err := decodeSections(parsed, false, false)
	if err != nil {
		return err
	}
	client, err := chatapi.NewClientFromSettings(sections.API, log.Logger.With().Str("component", "chatapi").Logger())
	if err != nil {
		return err
	}
	agents, err := client.Agents(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(agents))
	for k := range agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := agents[k]
		row := types.NewRow(
			types.MRP("type", k),
			types.MRP("name", a.Name),
			types.MRP("role", a.Role),
			types.MRP("model", a.Model),
			types.MRP("color", a.Color),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
