// File: control/metrics.go
// License: Apache-2.0
//
// Prometheus-backed runtime metrics. A nil *Metrics is valid and records
// nothing, so components can take it unconditionally.

package control

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsreactor"

// Metrics holds every collector exported by the process.
type Metrics struct {
	registry *prometheus.Registry

	accepted   *prometheus.CounterVec
	open       *prometheus.GaugeVec
	closed     *prometheus.CounterVec
	reaped     *prometheus.CounterVec
	upgrades   *prometheus.CounterVec
	messages   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	responses  *prometheus.CounterVec
	broadcasts prometheus.Counter
	deliveries prometheus.Counter
}

// NewMetrics registers all collectors on a private registry together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Connections accepted by the reactor.",
		}, []string{"server"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_open",
			Help: "Connections currently in the connection table.",
		}, []string{"server"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Connections closed, by reason.",
		}, []string{"server", "reason"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_reaped_total",
			Help: "Idle connections shut down by the reaper.",
		}, []string{"server"}),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_upgrades_total",
			Help: "WebSocket handshakes, by result.",
		}, []string{"server", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Inbound messages dispatched to handlers.",
		}, []string{"server", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "WebSocket data frames dropped by the rate limiter.",
		}, []string{"server"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handler_duration_seconds",
			Help:    "Time spent in message handlers.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"server", "kind"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_responses_total",
			Help: "HTTP responses by route and status code.",
		}, []string{"route", "code"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Broadcast calls on the WebSocket pool.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_deliveries_total",
			Help: "Per-connection deliveries queued by broadcasts.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.accepted, m.open, m.closed, m.reaped, m.upgrades, m.messages,
		m.dropped, m.latency, m.responses, m.broadcasts, m.deliveries,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnAccepted(server string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(server).Inc()
	m.open.WithLabelValues(server).Inc()
}

func (m *Metrics) ConnClosed(server, reason string) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(server, reason).Inc()
	m.open.WithLabelValues(server).Dec()
}

func (m *Metrics) ConnReaped(server string) {
	if m == nil {
		return
	}
	m.reaped.WithLabelValues(server).Inc()
}

func (m *Metrics) Upgrade(server string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.upgrades.WithLabelValues(server, result).Inc()
}

// Message records one dispatched message and its handler latency.
func (m *Metrics) Message(server, kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(server, kind).Inc()
	m.latency.WithLabelValues(server, kind).Observe(took.Seconds())
}

func (m *Metrics) FrameDropped(server string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(server).Inc()
}

func (m *Metrics) Response(route string, code int) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Broadcast(deliveries int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(deliveries))
}
