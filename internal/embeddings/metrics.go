package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/toolgate/internal/embeddings"

// Metrics records embedding instruments on the global meter provider.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewMetrics creates the embedding instruments. Instrument creation errors
// are logged and leave that instrument unset.
func NewMetrics(logger *zap.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"toolgate.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding requests by mode and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"toolgate.embedding.batch_size",
		metric.WithDescription("Texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"toolgate.embedding.errors_total",
		metric.WithDescription("Model load and inference failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.fallbacks, err = meter.Int64Counter(
		"toolgate.embedding.fallback_requests_total",
		metric.WithDescription("Requests served by the hash embedding fallback"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create fallback counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) record(ctx context.Context, mode Mode, op string, d time.Duration, n int) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("operation", op),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(n), attrs)
	}
	if mode == ModeFallback && m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordError(ctx context.Context, stage string) {
	if m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}
