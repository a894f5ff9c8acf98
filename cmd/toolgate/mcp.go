package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/mcp"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	var idx indexFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve tool_search, tool_activate, and tool_diagnostics over MCP stdio",
		Long: `Run an MCP server on stdin/stdout. Logs are written to stderr.

Example client configuration:
  {"command": "toolgate", "args": ["mcp", "--load"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			// stdout belongs to the protocol.
			stderrLogs := func(c *config.Config) { c.Logging.Output = "stderr" }
			return withApp(ctx, opts, stderrLogs, func(ctx context.Context, a *app) error {
				srv, err := mcp.NewServer(&mcp.Config{
					Name:    "toolgate",
					Version: version,
					Logger:  a.logger.Zap().Named("mcp"),
				}, mcp.Deps{
					Search:      a.search,
					Activation:  a.activation,
					Diagnostics: a.diagnostics,
				})
				if err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				if err := idx.index(gctx, g, a); err != nil {
					return err
				}
				g.Go(func() error {
					err := srv.Run(gctx)
					// The client hung up; stop any watcher too.
					stop()
					return err
				})
				return g.Wait()
			})
		},
	}
	idx.register(cmd)
	return cmd
}
