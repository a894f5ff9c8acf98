package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
)

func newActivateCmd(opts *globalOptions) *cobra.Command {
	var (
		actor                    actorFlags
		noManifest, noProvenance bool
	)
	cmd := &cobra.Command{
		Use:   "activate <urn>",
		Short: "Resolve and authorize one tool",
		Long: `Fetch the manifest for urn, check the actor against its capabilities, and
print the activation payload. A denied activation exits non-zero with an
IAM_DENIED error.

Examples:
  toolgate activate urn:tool:files --capability fs.read
  toolgate activate urn:tool:files --actor agent-7 --no-manifest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			includeManifest, includeProvenance := !noManifest, !noProvenance
			return withApp(cmd.Context(), opts, nil, func(ctx context.Context, a *app) error {
				resp, err := a.activation.Activate(ctx, activation.Params{
					Input:             map[string]any{"urn": args[0]},
					Actor:             actor.actor(),
					IncludeManifest:   &includeManifest,
					IncludeProvenance: &includeProvenance,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	actor.register(cmd)
	cmd.Flags().BoolVar(&noManifest, "no-manifest", false, "omit the manifest body")
	cmd.Flags().BoolVar(&noProvenance, "no-provenance", false, "omit provenance")
	return cmd
}
