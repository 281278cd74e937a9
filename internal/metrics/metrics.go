// Package metrics exposes the internal gauges and counters a vnode
// maintains about its own activity. These are process-internal instruments
// (not part of THE CORE's contract with any external collaborator) that
// report request counts, sync traffic and sync-quota usage, optionally
// through a Prometheus scrape endpoint. The quota itself is enforced by
// vnodesync.Quota's own counters; these gauges only mirror it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric a vnode controller touches.
type Registry struct {
	ClientConnections prometheus.Gauge

	RequestsRead   prometheus.Counter
	RequestsWrite  prometheus.Counter
	RequestsDelete prometheus.Counter

	SyncSent      prometheus.Counter
	SyncReceived  prometheus.Counter
	SyncResent    prometheus.Counter
	SyncOutgoing  prometheus.Gauge
	SyncIncoming  prometheus.Gauge
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		ClientConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnodedb_client_connections",
			Help: "Currently open client connections.",
		}),
		RequestsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_requests_read_total",
			Help: "Coordinated read requests served.",
		}),
		RequestsWrite: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_requests_write_total",
			Help: "Coordinated write requests served.",
		}),
		RequestsDelete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_requests_delete_total",
			Help: "Coordinated delete requests served.",
		}),
		SyncSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_sync_send_total",
			Help: "SyncSend messages transmitted.",
		}),
		SyncReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_sync_recv_total",
			Help: "SyncSend messages received and applied.",
		}),
		SyncResent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnodedb_sync_resend_total",
			Help: "SyncSend messages retransmitted after their per-message timeout.",
		}),
		SyncOutgoing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnodedb_sync_outgoing",
			Help: "Currently active outgoing sync/bootstrap sessions.",
		}),
		SyncIncoming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnodedb_sync_incoming",
			Help: "Currently active incoming sync/bootstrap sessions.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ClientConnections, m.RequestsRead, m.RequestsWrite, m.RequestsDelete,
		m.SyncSent, m.SyncReceived, m.SyncResent, m.SyncOutgoing, m.SyncIncoming,
	} {
		reg.MustRegister(c)
	}
	return m
}
