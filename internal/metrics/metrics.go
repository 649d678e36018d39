package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. Instances are scoped to
// an injected Registerer rather than the global default registry so the core
// stays instantiable multiple times per process (and per test run).
type Metrics struct {
	ActiveConnections     prometheus.Gauge
	ConnectsTotal         prometheus.Counter
	DisconnectsTotal      prometheus.Counter
	MessagesSentTotal     prometheus.Counter
	MessagesReceivedTotal prometheus.Counter
	SendFailuresTotal     prometheus.Counter
	HandlerFailuresTotal  prometheus.Counter
	QueuedMessages        prometheus.Gauge
	BroadcastsTotal       *prometheus.CounterVec
}

// New creates the collector set and registers it on reg. A nil reg leaves
// the collectors unregistered, which is convenient in unit tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsewire",
			Name:      "active_connections",
			Help:      "Number of currently registered connections.",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "connects_total",
			Help:      "Total connections accepted.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "disconnects_total",
			Help:      "Total connections closed.",
		}),
		MessagesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "messages_sent_total",
			Help:      "Total messages written to transports.",
		}),
		MessagesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "messages_received_total",
			Help:      "Total inbound frames received.",
		}),
		SendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "send_failures_total",
			Help:      "Total transport write failures.",
		}),
		HandlerFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "handler_failures_total",
			Help:      "Total dispatch handler and subscriber failures.",
		}),
		QueuedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsewire",
			Name:      "queued_messages",
			Help:      "Messages currently held in the offline queue.",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewire",
			Name:      "broadcasts_total",
			Help:      "Total fan-out operations by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveConnections,
			m.ConnectsTotal,
			m.DisconnectsTotal,
			m.MessagesSentTotal,
			m.MessagesReceivedTotal,
			m.SendFailuresTotal,
			m.HandlerFailuresTotal,
			m.QueuedMessages,
			m.BroadcastsTotal,
		)
	}

	return m
}
