package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/order-gateway/ogw/internal/sidecar"
)

const namespace = "ogw"

// Sidecar call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport"
	OutcomeEmbedded  = "embedded"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	sidecarCalls     *prometheus.CounterVec
	sidecarDuration  *prometheus.HistogramVec
	sidecarReachable prometheus.Gauge
}

// NewMetrics creates and registers the gateway collectors plus the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		sidecarCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sidecar",
			Name:      "calls_total",
			Help:      "Sidecar calls, by operation and outcome (ok, transport, embedded).",
		}, []string{"op", "outcome"}),
		sidecarDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sidecar",
			Name:      "call_duration_seconds",
			Help:      "Sidecar call latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		sidecarReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sidecar",
			Name:      "reachable",
			Help:      "1 when the last sidecar health probe succeeded.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.sidecarCalls,
		m.sidecarDuration,
		m.sidecarReachable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveSidecar records one sidecar call and its outcome.
func (m *Metrics) ObserveSidecar(op string, err error, elapsed time.Duration) {
	m.sidecarCalls.WithLabelValues(op, Outcome(err)).Inc()
	m.sidecarDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetSidecarReachable records the latest health probe result.
func (m *Metrics) SetSidecarReachable(ok bool) {
	if ok {
		m.sidecarReachable.Set(1)
		return
	}
	m.sidecarReachable.Set(0)
}

// Outcome maps a sidecar call result to a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case sidecar.IsEmbedded(err):
		return OutcomeEmbedded
	default:
		return OutcomeTransport
	}
}
