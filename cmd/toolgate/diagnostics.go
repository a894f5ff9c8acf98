package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newDiagnosticsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Report embedding, vector store, and registry state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, nil, func(ctx context.Context, a *app) error {
				return printJSON(cmd.OutOrStdout(), a.diagnostics(ctx))
			})
		},
	}
}
