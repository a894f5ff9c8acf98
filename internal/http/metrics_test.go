package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/apperr"
)

func TestRouteMetrics_Middleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &routeMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()

	e := echo.New()
	e.Use(m.middleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/v1/activate", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, string(apperr.CodeIAMDenied))
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/activate"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "toolgate.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byRoute := map[string]int64{}
				for _, dp := range sum.DataPoints {
					endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					class, _ := dp.Attributes.Value(attribute.Key("status_class"))
					byRoute[endpoint.AsString()+" "+class.AsString()] += dp.Value
				}
				assert.Equal(t, map[string]int64{"health 2xx": 2, "activate 4xx": 1}, byRoute)
			case "toolgate.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var count uint64
				for _, dp := range hist.DataPoints {
					count += dp.Count
				}
				assert.Equal(t, uint64(3), count)
			}
		}
	}
	assert.True(t, found["toolgate.http.requests_total"])
	assert.True(t, found["toolgate.http.request_duration_seconds"])
	assert.True(t, found["toolgate.http.response_size_bytes"])
	assert.True(t, found["toolgate.http.active_requests"])
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"":                    "unmatched",
		"/*":                  "unmatched",
		"/health":             "health",
		"/metrics":            "metrics",
		"/api/v1/diagnostics": "diagnostics",
		"/api/v1/search":      "search",
		"/api/v1/activate":    "activate",
		"/api/v1/load":        "load",
		"/api/v1/unknown":     "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(path), path)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "4xx", statusClass(http.StatusTooManyRequests))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
	assert.Equal(t, "unknown", statusClass(0))
}
