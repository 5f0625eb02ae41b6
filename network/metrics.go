package network

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	received    *prometheus.CounterVec
	sent        *prometheus.CounterVec
	peers       prometheus.Gauge
	badMessages prometheus.Counter
	disconnects prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headersync",
			Subsystem: "p2p",
			Name:      "messages_received_total",
			Help:      "Messages read from peers by code.",
		}, []string{"code"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headersync",
			Subsystem: "p2p",
			Name:      "messages_sent_total",
			Help:      "Messages written to peers by code.",
		}, []string{"code"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headersync",
			Subsystem: "p2p",
			Name:      "peers",
			Help:      "Connected peers.",
		}),
		badMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headersync",
			Subsystem: "p2p",
			Name:      "bad_messages_total",
			Help:      "Reports of peers sending invalid messages.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headersync",
			Subsystem: "p2p",
			Name:      "disconnects_total",
			Help:      "Peers dropped for misbehaviour or a failed handshake.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.sent, m.peers, m.badMessages, m.disconnects)
	}
	return m
}
