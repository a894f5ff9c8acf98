package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/search"
)

// Searcher runs searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Activator runs activations.
type Activator interface {
	Activate(ctx context.Context, p activation.Params) (*activation.Response, error)
}

// Deps are the services behind the tools. Diagnostics is optional.
type Deps struct {
	Search      Searcher
	Activation  Activator
	Diagnostics func(ctx context.Context) any
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "toolgate")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns the default server identity and a no-op logger.
func DefaultConfig() *Config {
	return &Config{
		Name:    "toolgate",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server is an MCP server over the search and activation services.
type Server struct {
	mcp     *mcp.Server
	deps    Deps
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a Server and registers its tools.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "toolgate"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if deps.Search == nil {
		return nil, errors.New("search service is required")
	}
	if deps.Activation == nil {
		return nil, errors.New("activation service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		deps:    deps,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on t. It is used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
