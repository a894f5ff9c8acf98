package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/contextstore"
	"github.com/fyrsmithlabs/toolgate/internal/embeddings"
	"github.com/fyrsmithlabs/toolgate/internal/events"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/loader"
	"github.com/fyrsmithlabs/toolgate/internal/logging"
	"github.com/fyrsmithlabs/toolgate/internal/registry"
	"github.com/fyrsmithlabs/toolgate/internal/search"
	"github.com/fyrsmithlabs/toolgate/internal/telemetry"
	"github.com/fyrsmithlabs/toolgate/internal/vectorstore"
)

// app holds every wired component for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	embeddings *embeddings.Service
	store      vectorstore.Store
	registry   registry.Registry
	publisher  events.Publisher
	context    *contextstore.Store

	search     *search.Service
	activation *activation.Service
	loader     *loader.Loader

	closers []func(context.Context) error
}

// loadConfig reads the config and applies flag overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

// newLogger builds the logger, bridging to OTEL logs when both telemetry
// and logging.otel are enabled.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg := logging.ConfigFrom(cfg.Logging)
	if tel == nil || !tel.IsEnabled() {
		return logging.NewLogger(lcfg, nil)
	}
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// newApp wires the services from cfg. The vector store is initialized so
// that backend failures degrade to the local fallback here, not on the
// first request.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	bootstrap, err := newLogger(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Observability, version), bootstrap.Zap())
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, tel.Shutdown)

	a.logger = bootstrap
	if cfg.Logging.OTEL && tel.IsEnabled() {
		if a.logger, err = newLogger(cfg, tel); err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.logger.Sync()
		return nil
	})
	z := a.logger.Zap()

	a.embeddings = embeddings.NewService(embeddings.Config{
		ModelID:    cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	}, providerFactory(cfg.Embeddings), z.Named("embeddings"))
	a.closers = append(a.closers, func(context.Context) error { return a.embeddings.Close() })

	if a.store, err = vectorstore.NewStore(&cfg.VectorStore, z.Named("vectorstore")); err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error {
		if err := a.store.Flush(ctx); err != nil {
			z.Warn("vector store flush failed", zap.Error(err))
		}
		return a.store.Close()
	})
	if err = a.store.Initialize(ctx, cfg.VectorStore.Collection); err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	if a.registry, err = registry.Open(ctx, cfg.Registry, z.Named("registry")); err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.registry.Close() })

	actOpts := activation.Options{}
	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events, z.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		actOpts.Publisher = pub
	}
	if cfg.Context.Enabled {
		dir, err := config.ExpandHome(cfg.Context.Dir)
		if err != nil {
			return nil, err
		}
		a.context = contextstore.New(dir, contextstore.Options{SizeLimitKB: cfg.Context.SizeLimitKB}, z.Named("context"))
		actOpts.Recorder = contextstore.NewRecorder(a.context)
	}

	filter := iam.NewFilter(iam.OptionsFromConfig(cfg.IAM), z.Named("iam"))
	a.search = search.NewService(a.embeddings, a.store, a.registry, filter,
		search.Options{MaxLimit: cfg.VectorStore.MaxLimit}, a.logger)
	a.activation = activation.NewService(a.registry, filter, actOpts, a.logger)
	a.loader = a.newLoader(nil)

	a.logger.Debug(ctx, "toolgate initialized",
		zap.String("vector_driver", string(a.store.Driver())),
		zap.String("vector_mode", string(a.store.Mode())),
		zap.String("registry", cfg.Registry.Driver),
		zap.Bool("events", a.publisher != nil),
		zap.Bool("context", a.context != nil),
	)
	return a, nil
}

// newLoader creates a Loader over the app stores. onReload may be nil.
func (a *app) newLoader(onReload func(*loader.Summary, error)) *loader.Loader {
	return loader.New(a.registry, a.embeddings, a.store, loader.Options{
		Dir:      a.cfg.Loader.ManifestDir,
		DryRun:   a.cfg.Loader.DryRun,
		Debounce: a.cfg.Loader.WatchDebounce,
		OnReload: onReload,
	}, a.logger)
}

// providerFactory returns nil when no model provider is configured, which
// puts the embedding service straight into hash fallback.
func providerFactory(cfg config.EmbeddingsConfig) embeddings.ProviderFactory {
	if cfg.Provider == "none" {
		return nil
	}
	return func(context.Context) (embeddings.Provider, error) {
		cacheDir, err := config.ExpandHome(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		return embeddings.NewProvider(embeddings.ProviderConfig{
			Provider:   cfg.Provider,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			CacheDir:   cacheDir,
			Dimensions: cfg.Dimensions,
		})
	}
}

// Diagnostics is the body of the diagnostics command, HTTP route, and MCP
// tool.
type Diagnostics struct {
	Version     string                 `json:"version"`
	Embeddings  embeddings.Diagnostics `json:"embeddings"`
	VectorStore VectorDiagnostics      `json:"vectorStore"`
	Registry    string                 `json:"registry"`
	Events      bool                   `json:"events"`
	Context     bool                   `json:"context"`
	Telemetry   telemetry.HealthStatus `json:"telemetry"`
}

// VectorDiagnostics describes the vector store.
type VectorDiagnostics struct {
	Driver     vectorstore.Driver `json:"driver"`
	Mode       vectorstore.Mode   `json:"mode"`
	Collection string             `json:"collection"`
}

func (a *app) diagnostics(context.Context) any {
	return Diagnostics{
		Version:    version,
		Embeddings: a.embeddings.Diagnostics(),
		VectorStore: VectorDiagnostics{
			Driver:     a.store.Driver(),
			Mode:       a.store.Mode(),
			Collection: a.cfg.VectorStore.Collection,
		},
		Registry:  a.cfg.Registry.Driver,
		Events:    a.publisher != nil,
		Context:   a.context != nil,
		Telemetry: a.telemetry.Health(),
	}
}

// close releases components in reverse order of creation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp loads config, wires an app, runs fn, and closes the app.
func withApp(ctx context.Context, opts *globalOptions, mutate func(*config.Config), fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeErr := a.close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}
