// Package metrics provides Prometheus metrics for the MongoDB MCP broker.
// It tracks tool call counts, latencies, driver operations, and embedding
// service health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "mongodb_mcp_broker"
)

var (
	// ToolCallsTotal counts MCP tool calls by tool name, category, operation type and status
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tool_calls_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "category", "operation_type", "status"})

	// ToolCallDuration measures tool call latency distribution
	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool call latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	// ToolCallsInFlight tracks currently executing tool calls
	ToolCallsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "tool_calls_in_flight",
		Help:      "Number of tool calls currently being processed",
	}, []string{"tool"})

	// ToolErrors counts tool call errors by error code
	ToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tool_errors_total",
		Help:      "Tool call errors by tool and error code",
	}, []string{"tool", "error_code"})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})

	// DriverOperationLatency measures MongoDB driver operation latency
	DriverOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "driver_operation_latency_seconds",
		Help:      "MongoDB driver operation latency by operation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// DriverOperationsTotal counts MongoDB driver operations
	DriverOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "driver_operations_total",
		Help:      "Total MongoDB driver operations by operation and status",
	}, []string{"operation", "status"})

	// Connections counts connection attempts by auth type and outcome
	Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connections_total",
		Help:      "Connection attempts by auth type and status",
	}, []string{"auth_type", "status"})

	// DocumentsReturned tracks result set sizes handed back to clients
	DocumentsReturned = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "documents_returned",
		Help:      "Documents returned per query by tool",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"tool"})

	// ResponseSize tracks response payload sizes in bytes
	ResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "response_size_bytes",
		Help:      "Response size distribution in bytes",
		Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 4000000, 16000000},
	}, []string{"tool"})

	// EmbeddingRequestsTotal counts embedding service calls
	EmbeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "embedding_requests_total",
		Help:      "Embedding service requests by input type and status",
	}, []string{"input_type", "status"})

	// EmbeddingLatency measures embedding service call latency
	EmbeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "embedding_latency_seconds",
		Help:      "Embedding service latency by model",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model"})

	// EmbeddingBatchSize tracks texts per embedding request
	EmbeddingBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "embedding_batch_size",
		Help:      "Number of texts batched per embedding request",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// EmbeddingRetries counts embedding request retries
	EmbeddingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "embedding_retries_total",
		Help:      "Embedding service retry count",
	})

	// CircuitBreakerState tracks breaker state per upstream (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open)",
	}, []string{"upstream"})

	// RateLimitWaits counts requests that had to wait for the concurrency semaphore
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Requests that waited for the concurrency semaphore",
	})

	// CacheHits counts cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "Total cache hit count",
	})

	// CacheMisses counts cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "Total cache miss count",
	})

	// CacheSize tracks current cache entry count
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries",
	})

	// CacheEvictions counts cache evictions
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_evictions_total",
		Help:      "Total cache eviction count",
	})

	// HTTPRequestsTotal counts HTTP transport requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path"})

	// SessionsActive tracks live HTTP transport sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "sessions_active",
		Help:      "Number of active transport sessions",
	})

	// SessionsClosedByIdle counts sessions torn down by the idle timeout
	SessionsClosedByIdle = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "sessions_closed_by_idle_total",
		Help:      "Sessions closed by the idle timeout",
	})
)

// RecordToolCall records a completed tool call with its duration and status.
func RecordToolCall(tool, category, operationType string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, category, operationType, status).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(duration)
}

// RecordToolError records a classified tool error.
func RecordToolError(tool, errorCode string) {
	if errorCode != "" {
		ToolErrors.WithLabelValues(tool, errorCode).Inc()
	}
}

// RecordDriverOperation records a MongoDB driver operation.
func RecordDriverOperation(operation string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	DriverOperationsTotal.WithLabelValues(operation, status).Inc()
	DriverOperationLatency.WithLabelValues(operation).Observe(duration)
}

// RecordConnection records a connection attempt.
func RecordConnection(authType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	Connections.WithLabelValues(authType, status).Inc()
}

// RecordEmbeddingRequest records an embedding service call.
func RecordEmbeddingRequest(inputType, model string, batchSize int, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	EmbeddingRequestsTotal.WithLabelValues(inputType, status).Inc()
	EmbeddingLatency.WithLabelValues(model).Observe(duration)
	EmbeddingBatchSize.Observe(float64(batchSize))
}

// RecordCacheAccess records a cache hit or miss.
func RecordCacheAccess(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// SetCacheSize updates the current cache size gauge.
func SetCacheSize(size int64) {
	CacheSize.Set(float64(size))
}
