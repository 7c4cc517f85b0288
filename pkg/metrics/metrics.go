package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"http_request_method"},
	)

	// Auth flow metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_login_attempts_total",
			Help: "Total number of first-factor login attempts",
		},
		[]string{"role", "status"},
	)

	TwoFactorVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_twofactor_verifications_total",
			Help: "Total number of second-factor verification attempts",
		},
		[]string{"status"},
	)

	FlowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_flow_transitions_total",
			Help: "Total number of orchestrator screen transitions",
		},
		[]string{"from", "to"},
	)

	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_guard_decisions_total",
			Help: "Total number of shell guard decisions by kind",
		},
		[]string{"kind"},
	)

	Logouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_logouts_total",
			Help: "Total number of logouts",
		},
		[]string{"status"},
	)

	// Storage tier metrics
	StorageWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_storage_write_failures_total",
			Help: "Total number of durable tier write failures (degraded to memory)",
		},
		[]string{"tier"},
	)

	// Infrastructure Metrics
	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_goroutines",
			Help: "Number of goroutines",
		},
	)

	HeapAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_mem_heap_alloc_bytes",
			Help: "Heap allocated bytes",
		},
	)
)

// RecordInfrastructureMetrics collects infrastructure metrics periodically
func RecordInfrastructureMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			GoRoutines.Set(float64(runtime.NumGoroutine()))
			HeapAlloc.Set(float64(m.HeapAlloc))
		}
	}()
}

// MeasureDuration measures the duration of an operation
func MeasureDuration(start time.Time) float64 {
	return time.Since(start).Seconds()
}
