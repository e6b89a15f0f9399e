// Package metrics holds the node's prometheus collectors.
//
// Collectors live on a per-node registry so several nodes can run in one
// process (tests do). All methods are safe on a nil *Metrics and do nothing,
// which lets components run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerlink"

// Metrics is the set of node collectors.
type Metrics struct {
	registry *prometheus.Registry

	peersLive         prometheus.Gauge
	beaconsSent       prometheus.Counter
	beaconsReceived   prometheus.Counter
	beaconsDropped    *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionsOpened    *prometheus.CounterVec
	sessionsClosed    *prometheus.CounterVec
	envelopesRejected *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		peersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_live",
			Help:      "Number of peers currently in the live registry",
		}),
		beaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_sent_total",
			Help:      "Number of discovery beacons sent",
		}),
		beaconsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_received_total",
			Help:      "Number of discovery beacons accepted",
		}),
		beaconsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_dropped_total",
			Help:      "Number of discovery datagrams dropped",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of established sessions",
		}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Number of sessions established",
		}, []string{"direction"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Number of sessions ended, by reason",
		}, []string{"reason"}),
		envelopesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_rejected_total",
			Help:      "Number of inbound envelopes dropped",
		}, []string{"reason"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Number of reconnection dials",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Number of application payloads sent",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Number of application payloads delivered",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.peersLive,
		m.beaconsSent,
		m.beaconsReceived,
		m.beaconsDropped,
		m.sessionsActive,
		m.sessionsOpened,
		m.sessionsClosed,
		m.envelopesRejected,
		m.reconnectAttempts,
		m.messagesSent,
		m.messagesReceived,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetPeersLive(n int) {
	if m != nil {
		m.peersLive.Set(float64(n))
	}
}

func (m *Metrics) BeaconSent() {
	if m != nil {
		m.beaconsSent.Inc()
	}
}

func (m *Metrics) BeaconReceived() {
	if m != nil {
		m.beaconsReceived.Inc()
	}
}

// BeaconDropped counts a rejected datagram under a short reason label.
func (m *Metrics) BeaconDropped(reason string) {
	if m != nil {
		m.beaconsDropped.WithLabelValues(reason).Inc()
	}
}

// SessionOpened counts an established session; initiator selects the
// direction label.
func (m *Metrics) SessionOpened(initiator bool) {
	if m == nil {
		return
	}
	dir := "inbound"
	if initiator {
		dir = "outbound"
	}
	m.sessionsOpened.WithLabelValues(dir).Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(reason).Inc()
	m.sessionsActive.Dec()
}

func (m *Metrics) EnvelopeRejected(reason string) {
	if m != nil {
		m.envelopesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) MessageReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}
