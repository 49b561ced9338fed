// Package metrics provides Prometheus metrics for assetvault.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage facade metrics
	storageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetvault_storage_operations_total",
			Help: "Total number of storage operations by outcome",
		},
		[]string{"backend", "op", "outcome"},
	)

	storageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetvault_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	storageBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetvault_storage_bytes_total",
			Help: "Payload bytes successfully saved or loaded",
		},
		[]string{"backend", "direction"},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Consistency check metrics
	fsckFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetvault_fsck_findings",
			Help: "Problems found by the last consistency check",
		},
		[]string{"backend", "kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStorageOp records one facade call. outcome is "ok" or an error kind.
func RecordStorageOp(backend, op, outcome string, duration time.Duration) {
	storageOpsTotal.WithLabelValues(backend, op, outcome).Inc()
	storageOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordBytes counts payload bytes moved in direction "in" or "out".
func RecordBytes(backend, direction string, n int) {
	storageBytes.WithLabelValues(backend, direction).Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetFsckFindings publishes the result of a consistency check.
func SetFsckFindings(backend string, dangling, orphans int) {
	fsckFindings.WithLabelValues(backend, "dangling").Set(float64(dangling))
	fsckFindings.WithLabelValues(backend, "orphan").Set(float64(orphans))
}
