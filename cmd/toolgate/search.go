package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/search"
)

// actorFlags build the caller identity for search and activate.
type actorFlags struct {
	id           string
	role         string
	capabilities []string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "actor", "", "actor id checked by the authorizer")
	cmd.Flags().StringVar(&f.role, "role", "", "actor role")
	cmd.Flags().StringSliceVar(&f.capabilities, "capability", nil, "capability the actor holds (repeatable)")
}

// actor returns nil when no actor flag is set.
func (f *actorFlags) actor() *iam.Actor {
	if f.id == "" && f.role == "" && len(f.capabilities) == 0 {
		return nil
	}
	return &iam.Actor{ID: f.id, Role: f.role, Capabilities: f.capabilities}
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		limit int
		actor actorFlags
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find tools by meaning",
		Long: `Rank indexed tools against query and keep those the actor may use.

Examples:
  toolgate search "convert markdown to pdf"
  toolgate search "read files" --capability fs.read --limit 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, nil, func(ctx context.Context, a *app) error {
				resp, err := a.search.Search(ctx, search.Request{
					Query: args[0],
					Limit: limit,
					Actor: actor.actor(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default 5)")
	actor.register(cmd)
	return cmd
}
