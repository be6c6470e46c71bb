// Package metrics exposes gateway counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luciancaetano/frost"
)

// Metrics implements the transport, router and room observers.
type Metrics struct {
	registry *prometheus.Registry

	connActive  *prometheus.GaugeVec
	connTotal   *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	fanout      *prometheus.HistogramVec
}

// New registers every collector under namespace.
func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: r,
		connActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active", Help: "Open client connections.",
		}, []string{"transport"}),
		connTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total", Help: "Accepted client connections.",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total", Help: "Requests refused by the rate limiter.",
		}, []string{"transport"}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "Dispatched requests by route and status.",
		}, []string{"route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "Handler latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"route"}),
		fanout: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "broadcast_recipients", Help: "Connections reached per room event.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"path"}),
	}
	r.MustRegister(m.connActive, m.connTotal, m.rateLimited, m.reqTotal, m.reqDur, m.fanout)
	return m
}

func (m *Metrics) ConnectionOpened(transport string) {
	m.connActive.WithLabelValues(transport).Inc()
	m.connTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	m.connActive.WithLabelValues(transport).Dec()
}

func (m *Metrics) RateLimited(transport string) {
	m.rateLimited.WithLabelValues(transport).Inc()
}

func (m *Metrics) ObserveRequest(route string, status frost.Status, took time.Duration) {
	m.reqTotal.WithLabelValues(route, status.String()).Inc()
	m.reqDur.WithLabelValues(route).Observe(took.Seconds())
}

func (m *Metrics) ObserveBroadcast(path string, recipients int) {
	m.fanout.WithLabelValues(path).Observe(float64(recipients))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
