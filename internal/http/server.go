// Package http serves the toolgate REST API.
//
// Routes:
//
//	GET  /health
//	GET  /api/v1/diagnostics
//	POST /api/v1/search
//	POST /api/v1/activate
//	POST /api/v1/load      (admin only)
//	GET  /metrics          (Prometheus)
//
// Errors are returned as {"ok": false, "code", "message", "context"} with the
// status taken from the error code.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/loader"
	"github.com/fyrsmithlabs/toolgate/internal/logging"
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

// Loader bulk loads manifests.
type Loader interface {
	Load(ctx context.Context, dir string) (*loader.Summary, error)
}

// DiagnosticsFunc reports component state for GET /api/v1/diagnostics.
type DiagnosticsFunc func(ctx context.Context) any

// Deps are the services behind the routes. Loader and Diagnostics are
// optional.
type Deps struct {
	Search      Searcher
	Activation  Activator
	Loader      Loader
	Diagnostics DiagnosticsFunc
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	RateLimit   float64 // requests per second per client, 0 disables
	RateBurst   int
	EnableAdmin bool
}

// Server is the REST API server.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	limiter *clientLimiter
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Search == nil {
		return nil, errors.New("search service is required")
	}
	if deps.Activation == nil {
		return nil, errors.New("activation service is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8085}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRouteMetrics(logger).middleware())
	e.Use(s.requestContext)
	e.Use(s.requestLog)
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
		e.Use(s.limiter.middleware(logger))
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/diagnostics", s.handleDiagnostics)
	v1.POST("/search", s.handleSearch)
	v1.POST("/activate", s.handleActivate)
	if s.config.EnableAdmin && s.deps.Loader != nil {
		v1.POST("/load", s.handleLoad)
	}
}

// requestContext stores the request id and actor id on the request context
// so service logs carry them.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		if id := req.Header.Get(HeaderActorID); id != "" {
			ctx = logging.WithActorID(ctx, id)
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// requestLog renders handler errors itself so the logged status, and the
// status seen by the outer metrics middleware, is the final one.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
