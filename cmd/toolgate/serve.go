package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/toolgate/internal/config"
	httpapi "github.com/fyrsmithlabs/toolgate/internal/http"
)

type indexFlags struct {
	load  bool
	watch bool
}

func (f *indexFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.load, "load", false, "load loader.manifest_dir before serving")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "keep loader.manifest_dir indexed while serving (implies --load)")
}

// index loads or watches the manifest dir in g according to the flags.
func (f *indexFlags) index(ctx context.Context, g *errgroup.Group, a *app) error {
	switch {
	case f.watch:
		g.Go(func() error { return a.loader.Watch(ctx, "") })
	case f.load:
		summary, err := a.loader.Load(ctx, "")
		if err != nil {
			return err
		}
		a.logger.Info(ctx, "manifests loaded",
			zap.Int("manifests", summary.ManifestsProcessed),
			zap.Int("skipped", len(summary.Skipped)),
			zap.String("vector_mode", summary.VectorMode))
	}
	return nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var idx indexFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve search, activation, and diagnostics over HTTP.

Examples:
  # Serve with the configured stores
  toolgate serve

  # Index the manifest directory first and keep it indexed
  TOOLGATE_LOADER_MANIFEST_DIR=./manifests toolgate serve --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return withApp(ctx, opts, nil, func(ctx context.Context, a *app) error {
				return serve(ctx, a, &idx)
			})
		},
	}
	idx.register(cmd)
	return cmd
}

func serve(ctx context.Context, a *app, idx *indexFlags) error {
	cfg := a.cfg.Server
	srv, err := httpapi.NewServer(httpapi.Deps{
		Search:      a.search,
		Activation:  a.activation,
		Loader:      a.loader,
		Diagnostics: a.diagnostics,
	}, a.logger.Zap().Named("http"), httpConfig(cfg))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := idx.index(gctx, g, a); err != nil {
		return err
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func httpConfig(c config.ServerConfig) *httpapi.Config {
	return &httpapi.Config{
		Host:        c.Host,
		Port:        c.Port,
		RateLimit:   c.RateLimit,
		RateBurst:   c.RateBurst,
		EnableAdmin: c.EnableAdmin,
	}
}
