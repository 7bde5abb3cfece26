package relay

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	clients  prometheus.Gauge
	rooms    prometheus.Gauge
	relayed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "clients",
			Help:      "Number of connected websocket clients.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "rooms",
			Help:      "Number of rooms held in memory.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_relayed_total",
			Help:      "Signaling frames fanned out to a room, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connections_rejected_total",
			Help:      "Websocket connections refused, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.clients, m.rooms, m.relayed, m.rejected)
	}
	return m
}
