// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts total proxy requests by method and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_requests_total",
		Help: "Total number of proxy requests",
	}, []string{"method", "status"})

	// RequestDuration tracks request duration in seconds.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devproxy_request_duration_seconds",
		Help:    "Request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// BytesSent tracks total bytes sent to clients.
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_bytes_sent_total",
		Help: "Total bytes sent to clients",
	})

	// BytesReceived tracks total bytes received from clients.
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_bytes_received_total",
		Help: "Total bytes received from clients",
	})

	// ActiveConnections tracks currently open WebSocket/Upgrade tunnels;
	// pass-through and queued requests are not counted.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_active_connections",
		Help: "Current number of active connections",
	})

	// QueueDepth tracks the current number of mutating requests admitted
	// or waiting on the serialization queue (spec §3 QueueState).
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_queue_depth",
		Help: "Current depth of the mutating-request serialization queue",
	})

	// QueueAdmitted counts mutating requests admitted into the
	// serialization slot.
	QueueAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_queue_admitted_total",
		Help: "Total mutating requests admitted to the serialization queue",
	})

	// QueueReleased counts slot releases by outcome.
	QueueReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_queue_released_total",
		Help: "Total serialization-slot releases by outcome",
	}, []string{"outcome"}) // outcome: "success", "bad_gateway", "overflow", "internal_error"

	// QueueWaitDuration tracks how long a mutating request waited before
	// admission.
	QueueWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devproxy_queue_wait_duration_seconds",
		Help:    "Time a mutating request waited before being admitted",
		Buckets: prometheus.DefBuckets,
	})

	// ContextAppends counts context entries appended via
	// /_chopin/report-context.
	ContextAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_context_appends_total",
		Help: "Total context entries appended via report-context",
	}, []string{"outcome"}) // outcome: "success", "missing_id", "not_found", "overflow"

	// IdentityResolutions counts identity resolution outcomes.
	IdentityResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_identity_resolutions_total",
		Help: "Total identity resolution outcomes",
	}, []string{"source"}) // source: "cookie", "bearer", "none"

	// ForwardErrors counts forwarding failures to the target.
	ForwardErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_forward_errors_total",
		Help: "Total forwarding errors to the target process",
	}, []string{"path_kind"}) // path_kind: "queued", "pass_through", "websocket"

	// TunnelConnections tracks WebSocket/Upgrade tunnel connections.
	TunnelConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_tunnel_connections_total",
		Help: "Total WebSocket/Upgrade tunnel connections",
	})

	// Health check metrics

	// HealthCheckTotal counts total health checks against the target by result.
	HealthCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_health_check_total",
		Help: "Total health checks against the target by result",
	}, []string{"result"}) // result: "success" or "failure"

	// TargetHealthStatus tracks current target health (1=healthy, 0=unhealthy).
	TargetHealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_target_health_status",
		Help: "Target health status (1=healthy, 0=unhealthy)",
	})

	// HealthCheckDuration tracks health check duration.
	HealthCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devproxy_health_check_duration_seconds",
		Help:    "Health check duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// CircuitBreakerState tracks the forwarding circuit breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_circuit_breaker_state",
		Help: "Forwarding circuit breaker state (0=closed, 1=open, 2=half-open)",
	})
)

// Stats holds runtime statistics for the /stats endpoint.
type Stats struct {
	ActiveConnections int64 `json:"activeConnections"`
	TotalRequests     int64 `json:"totalRequests"`
	BytesSent         int64 `json:"bytesSent"`
	BytesReceived     int64 `json:"bytesReceived"`
	QueueDepth        int64 `json:"queueDepth"`
	QueueAdmitted     int64 `json:"queueAdmitted"`
}

// StatsCollector collects runtime statistics, mirroring their Prometheus
// counterparts for the plain-JSON /stats endpoint.
type StatsCollector struct {
	activeConnections atomic.Int64
	totalRequests     atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
	queueAdmitted     atomic.Int64
}

// NewStatsCollector creates a new stats collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// IncActiveConnections increments active connections.
func (sc *StatsCollector) IncActiveConnections() {
	sc.activeConnections.Add(1)
	ActiveConnections.Inc()
}

// DecActiveConnections decrements active connections.
func (sc *StatsCollector) DecActiveConnections() {
	sc.activeConnections.Add(-1)
	ActiveConnections.Dec()
}

// IncTotalRequests increments total requests.
func (sc *StatsCollector) IncTotalRequests() {
	sc.totalRequests.Add(1)
}

// AddBytesSent adds to bytes sent counter.
func (sc *StatsCollector) AddBytesSent(n int64) {
	sc.bytesSent.Add(n)
	BytesSent.Add(float64(n))
}

// AddBytesReceived adds to bytes received counter.
func (sc *StatsCollector) AddBytesReceived(n int64) {
	sc.bytesReceived.Add(n)
	BytesReceived.Add(float64(n))
}

// IncQueueAdmitted increments the admitted-to-queue counter.
func (sc *StatsCollector) IncQueueAdmitted() {
	sc.queueAdmitted.Add(1)
	QueueAdmitted.Inc()
}

// GetStats returns current statistics. depth is sampled from the live
// queue since it is not owned by the collector itself.
func (sc *StatsCollector) GetStats(depth int64) Stats {
	return Stats{
		ActiveConnections: sc.activeConnections.Load(),
		TotalRequests:     sc.totalRequests.Load(),
		BytesSent:         sc.bytesSent.Load(),
		BytesReceived:     sc.bytesReceived.Load(),
		QueueDepth:        depth,
		QueueAdmitted:     sc.queueAdmitted.Load(),
	}
}
