package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency by route, method and status,
// consumed by the httpserver Metrics middleware.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kdebug",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// CommandsDispatchedTotal counts commands published to executor channels.
var CommandsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kdebug",
		Subsystem: "router",
		Name:      "commands_dispatched_total",
		Help:      "Total number of commands published to executor channels.",
	},
	[]string{"cluster_id"},
)

// CommandResultsTotal counts router outcomes by status.
var CommandResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kdebug",
		Subsystem: "router",
		Name:      "command_results_total",
		Help:      "Total number of command outcomes by status.",
	},
	[]string{"status"},
)

// ExecutorConnectionsActive tracks the number of live executor streams.
var ExecutorConnectionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kdebug",
		Subsystem: "executor",
		Name:      "connections_active",
		Help:      "Number of currently connected executor streams.",
	},
)

// SessionsActiveTotal gauges the current count of active sessions, set by
// each session cleanup sweep.
var SessionsActiveTotal = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kdebug",
		Subsystem: "session",
		Name:      "active_total",
		Help:      "Number of currently active debugging sessions.",
	},
)

// All returns the gateway-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		CommandsDispatchedTotal,
		CommandResultsTotal,
		ExecutorConnectionsActive,
		SessionsActiveTotal,
	}
}

// NewMetricsRegistry builds a Prometheus registry carrying the Go/process
// collectors plus this package's gateway metrics and any extras supplied
// by the caller.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
