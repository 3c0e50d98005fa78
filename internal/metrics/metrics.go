// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "xsnotifier"

// Drop reasons.
const (
	ReasonNormalize = "normalize"
	ReasonTransport = "transport"
	ReasonEncode    = "encode"
)

// Metrics holds the relay collectors. The zero value is not usable; a nil
// *Metrics is, and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	received     *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sent         prometheus.Counter
	sentBytes    prometheus.Counter
	sendFailures prometheus.Counter
	reconnects   prometheus.Counter
	restarts     *prometheus.CounterVec
}

// New registers the relay collectors plus Go runtime and process metrics on
// a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Host notifications picked up, by acquisition strategy.",
		}, []string{"strategy"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications that never reached XSOverlay, by reason.",
		}, []string{"reason"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Datagrams written to the XSOverlay socket.",
		}),
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_bytes_total",
			Help:      "Payload bytes written to the XSOverlay socket.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Dial or write failures that ended a sender run.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Sockets reopened after a destination change.",
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Supervised task restarts, by task.",
		}, []string{"task"}),
	}
	m.reg.MustRegister(
		m.received, m.dropped, m.sent, m.sentBytes, m.sendFailures, m.reconnects, m.restarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is what the HTTP handler gathers from.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveQueueDepth exports fn as the delivery backlog gauge.
func (m *Metrics) ObserveQueueDepth(fn func() int) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "delivery_queue_depth",
		Help:      "Messages waiting for the sender.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Received(strategy string) {
	if m != nil {
		m.received.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) TaskRestarted(task string) {
	if m != nil {
		m.restarts.WithLabelValues(task).Inc()
	}
}

// MessageSent, SendFailed and Reconnected satisfy xsoverlay.Observer.

func (m *Metrics) MessageSent(bytes int) {
	if m != nil {
		m.sent.Inc()
		m.sentBytes.Add(float64(bytes))
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
		m.dropped.WithLabelValues(ReasonTransport).Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}
