package sockproxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus instrumentation (spec §11). Shaped
// after dantte-lp-gobfd's internal/metrics/collector.go Collector: a gauge
// for the currently-live count plus labeled counters for lifetime totals,
// registered on a private registry so embedding a Daemon never collides
// with an application's default registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	bytesTotal         *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sockproxyd",
			Name:      "sessions_active",
			Help:      "Number of currently open proxy sessions.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockproxyd",
			Name:      "sessions_total",
			Help:      "Total proxy sessions by how they ended.",
		}, []string{"outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockproxyd",
			Name:      "bytes_total",
			Help:      "Total bytes relayed, by direction.",
		}, []string{"direction"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockproxyd",
			Name:      "notifications_total",
			Help:      "Total controller notifications, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.sessionsActive, m.sessionsTotal, m.bytesTotal, m.notificationsTotal)
	return m
}

func (m *Metrics) sessionOpened() { m.sessionsActive.Inc() }

func (m *Metrics) sessionClosed(outcome string) {
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) bytes(direction string, n int) {
	if n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

// Handler exposes the registry for an embedding main or test to mount; the
// daemon itself binds no HTTP listener for it (spec §11).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
