package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/loader"
)

func newLoadCmd(opts *globalOptions) *cobra.Command {
	var dryRun, watch bool
	cmd := &cobra.Command{
		Use:   "load [dir]",
		Short: "Index the manifests under a directory",
		Long: `Parse every *.json manifest under dir (default loader.manifest_dir), embed
it, and write it to the registry and vector store. Files that cannot be
parsed are reported in "skipped" and do not fail the load.

Examples:
  toolgate load ./manifests
  toolgate load --dry-run
  toolgate load ./manifests --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			mutate := func(c *config.Config) {
				if dryRun {
					c.Loader.DryRun = true
				}
			}
			ctx := cmd.Context()
			if watch {
				var stop context.CancelFunc
				ctx, stop = signalContext(ctx)
				defer stop()
			}
			return withApp(ctx, opts, mutate, func(ctx context.Context, a *app) error {
				if !watch {
					summary, err := a.loader.Load(ctx, dir)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), summary)
				}
				out := cmd.OutOrStdout()
				l := a.newLoader(func(s *loader.Summary, err error) {
					if err != nil {
						a.logger.Warn(ctx, "manifest reload failed", zap.Error(err))
						return
					}
					_ = printJSON(out, s)
				})
				return l.Watch(ctx, dir)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "embed without writing to the registry or vector store")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload whenever manifest files change")
	return cmd
}
