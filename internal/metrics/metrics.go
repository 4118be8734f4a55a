// Package metrics exposes the mesh core's process-wide Prometheus
// counters and gauges: routing outcomes, relay depth, peer health, and
// aggregator fetch timings, bound in at the seams spec.md §2 already
// names as countable events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the mesh core's metric set, constructed once per host
// process and passed down to Router/Relay/PeerMesh/Aggregator — one of
// the "globals" spec.md §9 calls out, modeled here as an explicit,
// injectable singleton rather than package-level state.
type Registry struct {
	RouteTotal         *prometheus.CounterVec
	RelayQueueDepth    *prometheus.GaugeVec
	PeerHealth         *prometheus.GaugeVec
	AggregateFetchTime *prometheus.HistogramVec
}

// NewRegistry builds and registers the mesh core's metrics against reg.
// Pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer for the process-wide registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RouteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_route_total",
			Help: "AMP route attempts by outcome status.",
		}, []string{"status"}),
		RelayQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_relay_queue_depth",
			Help: "Number of envelopes currently queued per agent.",
		}, []string{"agent"}),
		PeerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_peer_health",
			Help: "1 if the peer answered its last health probe, 0 otherwise.",
		}, []string{"peer"}),
		AggregateFetchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mesh_aggregate_fetch_seconds",
			Help:    "Wall-clock time to fetch one host's agent list during aggregation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
	}
	reg.MustRegister(m.RouteTotal, m.RelayQueueDepth, m.PeerHealth, m.AggregateFetchTime)
	return m
}

// ObserveRoute records the outcome of one route call.
func (m *Registry) ObserveRoute(status string) {
	if m == nil {
		return
	}
	m.RouteTotal.WithLabelValues(status).Inc()
}

// SetRelayDepth records the current pending-entry count for an agent.
func (m *Registry) SetRelayDepth(agentID string, depth int) {
	if m == nil {
		return
	}
	m.RelayQueueDepth.WithLabelValues(agentID).Set(float64(depth))
}

// SetPeerHealth records whether a peer answered its last probe.
func (m *Registry) SetPeerHealth(peerID string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.PeerHealth.WithLabelValues(peerID).Set(v)
}
