// Package metrics exposes Prometheus instrumentation for the admission
// queue and the isolate runner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eval",
		Name:      "queue_depth",
		Help:      "Number of evaluations currently waiting in the admission queue.",
	})

	admissionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eval",
		Name:      "admission_total",
		Help:      "Total admission decisions made by the queue.",
	}, []string{"result"})

	evalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eval",
		Name:      "duration_milliseconds",
		Help:      "Evaluation duration in milliseconds, from the start of isolate execution to its result.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 6000},
	})

	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eval",
		Name:      "fetch_total",
		Help:      "Outcomes of guest-initiated outbound fetch calls.",
	}, []string{"outcome"})

	inflightFetches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eval",
		Name:      "inflight_fetches",
		Help:      "Outbound fetch calls currently in flight from the active isolate.",
	})

	connectionsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eval",
		Name:      "connections_rejected_total",
		Help:      "TCP connections rejected at accept time, by reason.",
	}, []string{"reason"})

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eval",
		Name:      "active_connections",
		Help:      "TCP connections currently accepted and not yet closed.",
	})
)

func init() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		queueDepth,
		admissionTotal,
		evalDuration,
		fetchTotal,
		inflightFetches,
		connectionsRejectedTotal,
		activeConnections,
	)
}

// SetQueueDepth records the current number of queued (not in-flight)
// evaluations.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordAdmission tallies one admission decision: "accepted" or
// "rejected".
func RecordAdmission(result string) {
	admissionTotal.WithLabelValues(result).Inc()
}

// RecordEvalDuration records one completed evaluation's wall-clock time.
func RecordEvalDuration(ms float64) {
	evalDuration.Observe(ms)
}

// RecordFetch tallies one outbound fetch outcome: "ok", "blocked",
// "timeout", "too_many", or "transport_error".
func RecordFetch(outcome string) {
	fetchTotal.WithLabelValues(outcome).Inc()
}

// SetInflightFetches records the current number of in-flight outbound
// fetch calls.
func SetInflightFetches(n int) {
	inflightFetches.Set(float64(n))
}

// RecordConnectionRejected tallies one TCP connection rejected at accept
// time: reason is "total_limit" or "per_ip_limit".
func RecordConnectionRejected(reason string) {
	connectionsRejectedTotal.WithLabelValues(reason).Inc()
}

// SetActiveConnections records the current number of accepted, not yet
// closed TCP connections.
func SetActiveConnections(n int64) {
	activeConnections.Set(float64(n))
}

// Handler serves the Prometheus exposition format at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
