package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/toolgate/internal/http"

// routeLabels names every route the server registers. Anything else is
// "other", and requests that matched no route are "unmatched".
var routeLabels = map[string]string{
	"/health":             "health",
	"/metrics":            "metrics",
	"/api/v1/diagnostics": "diagnostics",
	"/api/v1/search":      "search",
	"/api/v1/activate":    "activate",
	"/api/v1/load":        "load",
}

// routeMetrics records per-route request counts, latency, and response
// sizes through the global OpenTelemetry meter provider.
type routeMetrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRouteMetrics(logger *zap.Logger) *routeMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &routeMetrics{meter: otel.Meter(httpInstrumentationName), logger: logger}
	m.init()
	return m
}

// init creates the instruments. A failed instrument is logged and skipped.
func (m *routeMetrics) init() {
	var err error
	if m.requests, err = m.meter.Int64Counter(
		"toolgate.http.requests_total",
		metric.WithDescription("API requests by method, route, and status."),
		metric.WithUnit("{request}"),
	); err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}
	if m.latency, err = m.meter.Float64Histogram(
		"toolgate.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	if m.size, err = m.meter.Int64Histogram(
		"toolgate.http.response_size_bytes",
		metric.WithDescription("API response body size by method, route, and status."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	); err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}
	if m.inFlight, err = m.meter.Int64UpDownCounter(
		"toolgate.http.active_requests",
		metric.WithDescription("API requests in flight."),
		metric.WithUnit("{request}"),
	); err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// middleware records each request once its final status is known. A
// handler error not yet rendered is rendered here first.
func (m *routeMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil && !c.Response().Committed {
				c.Error(err)
			}

			res := c.Response()
			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", res.Status),
				attribute.String("status_class", statusClass(res.Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, opt)
			}
			return nil
		}
	}
}

// routeLabel maps the matched route pattern to a fixed label set, never the
// raw URL.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	if label, ok := routeLabels[path]; ok {
		return label
	}
	return "other"
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
