package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("toolgate.vectorstore")

var (
	// OperationsTotal counts store operations.
	// Labels: driver, operation, result (success, error, fallback)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"driver", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolgate",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"driver", "operation"},
	)

	// FallbackActive is 1 while a store serves from its local fallback.
	FallbackActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "toolgate",
			Subsystem: "vectorstore",
			Name:      "fallback_active",
			Help:      "Whether the store is in fallback mode (1) or native mode (0)",
		},
		[]string{"driver", "collection"},
	)

	// DimensionMismatches counts comparisons between vectors of different
	// length, which are scored over the shorter prefix.
	DimensionMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "vectorstore",
			Name:      "dimension_mismatches_total",
			Help:      "Search comparisons between vectors of different dimension",
		},
		[]string{"driver"},
	)
)

func observe(driver Driver, op string, start time.Time, result string) {
	OperationsTotal.WithLabelValues(string(driver), op, result).Inc()
	OperationDuration.WithLabelValues(string(driver), op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
