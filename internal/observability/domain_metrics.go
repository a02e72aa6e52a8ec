package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightql_query_attempts_total",
			Help: "Total number of pipeline invocations by final execution status.",
		},
		[]string{"status"},
	)
	safetyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightql_safety_rejections_total",
			Help: "Total number of statements rejected by the SQL safety gate.",
		},
	)
	sqlGenerationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightql_sql_generation_latency_ms",
			Help:    "SQL generation latency in milliseconds, full LLM round trip.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	warehouseExecutionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightql_warehouse_execution_latency_ms",
			Help:    "Warehouse execution latency in milliseconds, full round trip.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
	)
	warehouseBytesScannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightql_warehouse_bytes_scanned_total",
			Help: "Total warehouse bytes scanned across all executed queries.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryAttemptsTotal,
		safetyRejectionsTotal,
		sqlGenerationLatencyMs,
		warehouseExecutionLatencyMs,
		warehouseBytesScannedTotal,
	)
}

func ObserveQueryAttempt(status string) {
	queryAttemptsTotal.WithLabelValues(status).Inc()
}

func IncrementSafetyRejection() {
	safetyRejectionsTotal.Inc()
}

func ObserveSQLGeneration(elapsed time.Duration) {
	sqlGenerationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveWarehouseExecution(elapsed time.Duration, bytesProcessed int64) {
	warehouseExecutionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if bytesProcessed > 0 {
		warehouseBytesScannedTotal.Add(float64(bytesProcessed))
	}
}
