package ucxgo

import "github.com/prometheus/client_golang/prometheus"

// metricsSet holds the engine's prometheus instrumentation. Each Engine
// gets its own registry-less counters/histogram (callers register them
// into whatever prometheus.Registerer they use, via Collectors).
type metricsSet struct {
	connectionsEstablished prometheus.Counter
	connectionsFailed      prometheus.Counter
	handshakeLatency       prometheus.Histogram
	requestsCompleted      *prometheus.CounterVec
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		connectionsEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ucxgo",
			Name:      "connections_established_total",
			Help:      "Connections that completed the conn_id handshake successfully.",
		}),
		connectionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ucxgo",
			Name:      "connections_failed_total",
			Help:      "Connections that transitioned to Errored, from handshake or post-establishment.",
		}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ucxgo",
			Name:      "handshake_latency_seconds",
			Help:      "Time from endpoint creation to a successful handshake completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ucxgo",
			Name:      "requests_completed_total",
			Help:      "Completed non-blocking operations, partitioned by final status.",
		}, []string{"status"}),
	}
}

// Collectors returns every metric so a caller can register them into a
// prometheus.Registerer of their choosing; the engine never registers
// itself into the default registry.
func (m *metricsSet) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionsEstablished,
		m.connectionsFailed,
		m.handshakeLatency,
		m.requestsCompleted,
	}
}

// Collectors exposes the engine's prometheus metrics for registration.
func (e *Engine) Collectors() []prometheus.Collector { return e.metrics.Collectors() }
