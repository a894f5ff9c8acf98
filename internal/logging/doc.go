// Package logging provides structured logging for toolgate.
//
// The package wraps Zap with:
//   - a Trace level below Debug
//   - stdout or stderr output, optionally tee'd into an OpenTelemetry log provider
//   - automatic correlation fields from context (trace, request, actor)
//   - field and pattern based secret redaction
//   - per-level sampling where errors are never sampled
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithActorID(ctx, "agent-7")
//	logger.Info(ctx, "search completed", zap.Int("returned", 3))
//
// Components that only need a *zap.Logger (vector stores, embedding
// providers) receive logger.Zap().
//
// When serving MCP over stdio, output must be set to "stderr" so log lines
// never interleave with protocol frames on stdout.
package logging
