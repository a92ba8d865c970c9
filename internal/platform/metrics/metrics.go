package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway-level Prometheus metrics.
type Metrics struct {
	RequestLatency *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge
}

// New creates and registers all gateway metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sso_console_request_duration_seconds",
			Help:    "Duration of gateway requests by method and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "status"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sso_console_active_sessions",
			Help: "Browser sessions currently held in the in-memory store",
		}),
	}
}

// ObserveRequest records one completed gateway request.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
	}
}

// SetActiveSessions records the current browser-session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}
