package mqsession

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the instrumentation for one session client. A nil *metrics is
// valid and turns every record method into a no-op, so the hot paths never
// branch on whether WithMetrics was supplied.
type metrics struct {
	connectAttempts  prometheus.Counter
	connects         prometheus.Counter
	disconnects      prometheus.Counter
	connectedGauge   prometheus.Gauge
	publishesQueued  prometheus.Counter
	publishQueueLen  prometheus.Gauge
	publishesSent    prometheus.Counter
	messagesReceived prometheus.Counter
	acksSent         prometheus.Counter
	acksDropped      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, including unsuccessful ones.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "connects_total",
			Help:      "Successful connections.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "disconnects_total",
			Help:      "Disconnections of an established connection.",
		}),
		connectedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqsession",
			Name:      "connected",
			Help:      "1 while a connection is established, 0 otherwise.",
		}),
		publishesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "publishes_queued_total",
			Help:      "Publishes accepted into the outgoing queue.",
		}),
		publishQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqsession",
			Name:      "publish_queue_length",
			Help:      "Current depth of the outgoing publish queue.",
		}),
		publishesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "publishes_sent_total",
			Help:      "Publishes completed, successfully or with a PUBACK error.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "messages_received_total",
			Help:      "Inbound publishes delivered to message handlers.",
		}),
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "acks_sent_total",
			Help:      "Acknowledgments transmitted to the server.",
		}),
		acksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqsession",
			Name:      "acks_dropped_total",
			Help:      "Acknowledgments discarded because their connection went down.",
		}),
	}
	reg.MustRegister(
		m.connectAttempts, m.connects, m.disconnects, m.connectedGauge,
		m.publishesQueued, m.publishQueueLen, m.publishesSent,
		m.messagesReceived, m.acksSent, m.acksDropped,
	)
	return m
}

func (m *metrics) connectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *metrics) connected() {
	if m == nil {
		return
	}
	m.connects.Inc()
	m.connectedGauge.Set(1)
}

func (m *metrics) disconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
	m.connectedGauge.Set(0)
}

func (m *metrics) publishQueued(depth int) {
	if m == nil {
		return
	}
	m.publishesQueued.Inc()
	m.publishQueueLen.Set(float64(depth))
}

func (m *metrics) publishSent() {
	if m == nil {
		return
	}
	m.publishesSent.Inc()
	m.publishQueueLen.Dec()
}

func (m *metrics) messageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *metrics) ackSent() {
	if m == nil {
		return
	}
	m.acksSent.Inc()
}

func (m *metrics) ackDropped() {
	if m == nil {
		return
	}
	m.acksDropped.Inc()
}
